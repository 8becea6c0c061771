package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"sicet-backend-go/internal/services"
)

type contextKey string

const ctxCaller contextKey = "caller"

// CallerResolver loads the profile behind a token subject.
type CallerResolver func(ctx context.Context, profileID string) (services.Caller, error)

// WithAuth validates the bearer access token and resolves the caller's role
// and status once per request.
func WithAuth(tokenService services.TokenService, resolve CallerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Authentication failed")
				return
			}
			caller, err := authenticate(r.Context(), tokenService, resolve, tokenStr)
			if err != nil {
				if !mapServiceError(w, err) {
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxCaller, caller)))
		})
	}
}

func authenticate(ctx context.Context, tokenService services.TokenService, resolve CallerResolver, tokenStr string) (services.Caller, error) {
	profileID, err := tokenService.SubjectOf(tokenStr, services.TokenAccess)
	if err != nil {
		return services.Caller{}, err
	}
	return resolve(ctx, profileID)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}

func CurrentCaller(r *http.Request) (services.Caller, bool) {
	caller, ok := r.Context().Value(ctxCaller).(services.Caller)
	return caller, ok
}

func CurrentUserID(r *http.Request) string {
	caller, _ := CurrentCaller(r)
	return caller.ID
}

// Require allows the request through when the caller's role grants action on
// resource.
func Require(resource services.Resource, action services.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CurrentCaller(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Authentication failed")
				return
			}
			if !caller.Can(resource, action) {
				WriteError(w, http.StatusForbidden, "Not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCronSecret guards scheduler endpoints with a shared bearer secret.
// An empty secret rejects every request.
func RequireCronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				WriteError(w, http.StatusUnauthorized, "Authentication failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
