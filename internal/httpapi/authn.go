package httpapi

import (
	"net/http"
	"strings"

	"portero.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "bearer"
)

// authenticate resolves the bearer token to a principal or answers 401.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require runs the authorization gate for the authenticated principal.
func (a *API) require(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, auth.ErrMissingToken)
				return
			}
			if _, err := a.svc.Authorize(r.Context(), principal, req); err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingToken
	}
	scheme, rest, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", auth.WithMessage(auth.ErrInvalidToken, "authorization scheme must be Bearer")
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
