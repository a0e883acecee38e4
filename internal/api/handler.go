// Package api exposes the HTTP surface: question answering, direct SQL
// execution, schema inspection and refresh, plus the usual health, readiness
// and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querylens/querylens/internal/ask"
	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/gateway"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          *ask.Service
	Schema            *schema.Holder
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "not_ready", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/schema/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleSchemaRefresh(deps, w, r)
	})
	protected.HandleFunc("POST /v1/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecute(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "auth_middleware_missing", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("POST /v1/schema/refresh", protectedHandler)
	mux.Handle("POST /v1/execute", protectedHandler)
	mux.Handle("POST /v1/ask", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// requireRole enforces role membership when an identity is present. Requests
// without an identity only occur when auth is disabled by configuration.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		return errors.New("missing required role " + role)
	}
	return nil
}

// writePipelineError maps the typed pipeline errors onto status codes.
// Validation rejections are client errors with the specific reason attached;
// timeouts and saturation are retryable server-side conditions; driver errors
// surface the engine's message verbatim since the statement is deterministic
// and a retry cannot change the outcome.
func writePipelineError(r *http.Request, w http.ResponseWriter, err error) {
	var validationErr *ask.ValidationError
	if errors.As(err, &validationErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "validation:"+string(validationErr.Reason), validationErr.Detail, false, nil)
		return
	}

	var gatewayErr *gateway.Error
	if errors.As(err, &gatewayErr) {
		switch gatewayErr.Kind {
		case gateway.ErrTimeout:
			writeError(r.Context(), w, http.StatusGatewayTimeout, "execution:timeout", gatewayErr.Message, true, nil)
		case gateway.ErrPoolExhausted:
			writeError(r.Context(), w, http.StatusServiceUnavailable, "execution:pool_exhausted", gatewayErr.Message, true, nil)
		case gateway.ErrConnectionFailure:
			writeError(r.Context(), w, http.StatusServiceUnavailable, "execution:connection_failure", gatewayErr.Message, true, nil)
		default:
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "execution:driver_error", gatewayErr.Message, false, nil)
		}
		return
	}

	var synthErr *nl2sql.Error
	if errors.As(err, &synthErr) {
		retryable := synthErr.Kind != nl2sql.ErrMalformedResponse
		writeError(r.Context(), w, http.StatusBadGateway, "synthesis:"+string(synthErr.Kind), "could not generate a query: "+synthErr.Message, retryable, nil)
		return
	}

	writeError(r.Context(), w, http.StatusInternalServerError, "internal", err.Error(), true, nil)
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, kind, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_kind": kind,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
