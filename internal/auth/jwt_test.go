package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	svc := NewJWTService("test-secret-key")

	token, err := svc.GenerateToken("user-123", "test@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID() != "user-123" {
		t.Errorf("expected user 'user-123', got '%s'", claims.UserID())
	}
	if claims.Email != "test@example.com" {
		t.Errorf("expected Email 'test@example.com', got '%s'", claims.Email)
	}
}

func TestValidateJWT_Rejections(t *testing.T) {
	svc := NewJWTService("test-secret-key")
	expired, _ := NewJWTService("test-secret-key", WithTTL(-time.Hour), WithLeeway(0)).GenerateToken("user-123", "")
	foreign, _ := NewJWTService("secret-b").GenerateToken("user-123", "")
	noSubject, _ := svc.GenerateToken("", "nobody@example.com")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	noneSigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"}})
	noExpirySigned, _ := noExpiry.SignedString([]byte("test-secret-key"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-valid-token"},
		{"expired", expired},
		{"wrong secret", foreign},
		{"alg none", noneSigned},
		{"missing subject", noSubject},
		{"missing expiry", noExpirySigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestValidateJWT_Issuer(t *testing.T) {
	svc := NewJWTService("s", WithIssuer("user-service"))
	token, _ := svc.GenerateToken("user-123", "")
	if _, err := svc.ValidateToken(token); err != nil {
		t.Fatalf("expected matching issuer to pass: %v", err)
	}

	other, _ := NewJWTService("s", WithIssuer("someone-else")).GenerateToken("user-123", "")
	if _, err := svc.ValidateToken(other); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestValidateJWT_Leeway(t *testing.T) {
	stale, _ := NewJWTService("s", WithTTL(-10*time.Second)).GenerateToken("user-123", "")
	if _, err := NewJWTService("s", WithLeeway(time.Minute)).ValidateToken(stale); err != nil {
		t.Errorf("expected skew within leeway to pass: %v", err)
	}
}
