// Package httpapi exposes the admission control service over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"portero.org/internal/auth"
	"portero.org/internal/obs"
)

// ReadyProbe checks backing dependencies before traffic is accepted.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tune the HTTP layer.
type Options struct {
	Version      string
	Ready        ReadyProbe
	LoginLimiter *IPLimiter
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	svc     *auth.Service
	admin   *auth.PolicyAdmin
	ready   ReadyProbe
	version string
	limiter *IPLimiter
	maxBody int64
	router  chi.Router
}

var validate = validator.New()

func New(svc *auth.Service, admin *auth.PolicyAdmin, opts Options) *API {
	a := &API{
		svc:     svc,
		admin:   admin,
		ready:   opts.Ready,
		version: opts.Version,
		limiter: opts.LoginLimiter,
		maxBody: opts.MaxBodyBytes,
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, SecurityHeaders, LoggingJSON, MaxBodyBytes(a.maxBody))
	r.Use(func(next http.Handler) http.Handler { return obs.Instrument(next, routePattern) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(a.limiter))
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/register", a.handleRegister)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.With(a.require(auth.Requirement{Operation: auth.OperationMFA})).Post("/auth/mfa/verify", a.handleMFAVerify)
			r.With(a.require(auth.Requirement{Operation: auth.OperationMFA})).Post("/auth/mfa/resend", a.handleMFAResend)
			r.With(a.require(auth.Requirement{Operation: auth.OperationPasswordReset})).Post("/auth/password/reset", a.handlePasswordReset)
			r.With(a.require(auth.Requirement{Operation: auth.OperationPasswordReset})).Get("/auth/password/status", a.handlePasswordStatus)

			r.Group(func(r chi.Router) {
				r.Use(a.require(auth.Requirement{}))
				r.Get("/auth/me", a.handleMe)
				r.Put("/auth/mfa/settings", a.handleMFASettings)
				r.Post("/auth/password/change", a.handlePasswordChange)
				r.Post("/authz/check", a.handleAuthzCheck)
			})

			r.Route("/roles", func(r chi.Router) {
				r.Use(a.require(auth.Requirement{Permissions: []string{auth.PermManageRoles}}))
				r.Get("/", a.handleListRoles)
				r.Post("/", a.handleCreateRole)
				r.Get("/{id}", a.handleGetRole)
				r.Patch("/{id}", a.handleUpdateRole)
				r.Delete("/{id}", a.handleDeleteRole)
				r.Get("/{id}/permissions", a.handleRolePermissions)
				r.Put("/{id}/permissions", a.handleAssignPermissions)
				r.Post("/{id}/permissions", a.handleAddPermission)
				r.Delete("/{id}/permissions/{permissionID}", a.handleRemovePermission)
			})

			r.Route("/permissions", func(r chi.Router) {
				r.Use(a.require(auth.Requirement{Permissions: []string{auth.PermManagePerms}}))
				r.Get("/", a.handleListPermissions)
				r.Post("/", a.handleCreatePermission)
				r.Get("/{id}", a.handleGetPermission)
				r.Patch("/{id}", a.handleUpdatePermission)
				r.Delete("/{id}", a.handleDeletePermission)
			})

			r.Route("/identities", func(r chi.Router) {
				r.Use(a.require(auth.Requirement{Permissions: []string{auth.PermManageUsers}}))
				r.Post("/", a.handleCreateIdentity)
				r.Get("/{id}", a.handleGetIdentity)
				r.Patch("/{id}/role", a.handleChangeRole)
				r.Post("/{id}/deactivate", a.handleDeactivate)
				r.Post("/{id}/unlock", a.handleUnlock)
			})
		})
	})

	return r
}

// Handler returns the root handler for the server.
func (a *API) Handler() http.Handler { return a.router }

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "portero",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "portero",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {"error": code, "message": msg, ...details}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	payload := map[string]any{
		"error":   code,
		"message": msg,
	}
	for k, v := range details {
		payload[k] = v
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// decodeJSON reads exactly one JSON value and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return validate.Struct(dst)
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
}
