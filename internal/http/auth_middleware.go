package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/flock/internal/token"
)

type authContextKey string

type authInfo struct {
	Username string
}

const contextKeyAuth authContextKey = "flock-auth-info"

// requireAuth ensures the request has a valid access token before invoking
// the handler. The authenticated username becomes the subject of every
// self-targeted operation; callers never name an arbitrary account.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		bearer, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		subject, _, err := r.tokens.Verify(bearer, token.PurposeAccess)
		if err != nil {
			r.logger.Warn("access token rejected", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{Username: subject})
		next(w, req.WithContext(ctx))
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return "", errors.New("empty bearer token")
	}
	return value, nil
}
