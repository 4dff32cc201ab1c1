package ws

import (
	"net/http"
	"strings"
)

// OriginChecker returns a CheckOrigin func for a gorilla Upgrader that
// accepts the given origins. "*" accepts any origin.
func OriginChecker(origins []string) func(r *http.Request) bool {
	allowed := make([]string, 0, len(origins))
	allowAll := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed = append(allowed, o)
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No Origin header: same-origin request or non-browser client.
			return true
		}
		if allowAll {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}
