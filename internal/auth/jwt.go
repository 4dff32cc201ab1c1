package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the resolved user id in "sub". Tokens are issued by the
// user service; this service verifies them and mints them only for tooling.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

type JWTOption func(*JWTService)

// WithIssuer pins the "iss" claim on minted tokens and requires it on
// verified ones.
func WithIssuer(iss string) JWTOption {
	return func(j *JWTService) { j.issuer = iss }
}

func WithTTL(d time.Duration) JWTOption {
	return func(j *JWTService) { j.ttl = d }
}

// WithLeeway tolerates clock skew against the issuing service.
func WithLeeway(d time.Duration) JWTOption {
	return func(j *JWTService) { j.leeway = d }
}

func NewJWTService(secret string, opts ...JWTOption) *JWTService {
	j := &JWTService{
		secret: []byte(secret),
		ttl:    time.Hour,
		leeway: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// GenerateToken signs an HS256 token for userID.
func (j *JWTService) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWTService) ValidateToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
