package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey string

const userIDKey contextKey = "user_id"

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// Resolver turns an incoming request into the caller's user id.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// JWTResolver reads a Bearer token. With AllowQueryToken the "token" query
// parameter is accepted too, for browser WebSocket handshakes that cannot
// set headers.
type JWTResolver struct {
	JWT             *JWTService
	AllowQueryToken bool
}

func (j JWTResolver) Resolve(r *http.Request) (string, error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", ErrUnauthenticated
		}
		token = parts[1]
	} else if j.AllowQueryToken {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", ErrUnauthenticated
	}

	claims, err := j.JWT.ValidateToken(token)
	if err != nil {
		return "", ErrUnauthenticated
	}
	return claims.UserID(), nil
}

// HeaderResolver trusts a user id header set by an upstream gateway that
// already authenticated the caller.
type HeaderResolver struct {
	Header string
}

const DefaultUserHeader = "X-User-ID"

func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = DefaultUserHeader
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
