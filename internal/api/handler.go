package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harvestql/harvestql/internal/auth"
	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/config"
	"github.com/harvestql/harvestql/internal/export"
	"github.com/harvestql/harvestql/internal/maintenance"
	"github.com/harvestql/harvestql/internal/observability"
	"github.com/harvestql/harvestql/internal/query"
	"github.com/harvestql/harvestql/internal/query/duckdb"
	"github.com/harvestql/harvestql/internal/relation"
	"github.com/harvestql/harvestql/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// RelationHost declares, drops and inspects live relations.
// *duckdb.Engine satisfies it.
type RelationHost interface {
	Create(ctx context.Context, name string, args []string) (duckdb.RelationInfo, error)
	Drop(ctx context.Context, name string) error
	Get(name string) (duckdb.RelationInfo, error)
	List() []duckdb.RelationInfo
	Snapshot(name string) (duckdb.RelationInfo, relation.RowSet, error)
}

// ExportWriter uploads relation snapshots and serves them back.
// *export.Exporter satisfies it.
type ExportWriter interface {
	Export(ctx context.Context, source export.Source, rows relation.RowSet) (export.Result, error)
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

// ExportMaintenance prunes and verifies the export history.
// *maintenance.Service satisfies it.
type ExportMaintenance interface {
	RunRetentionOnce(ctx context.Context, relationName string) (maintenance.RetentionSummary, error)
	RunIntegrityCheckOnce(ctx context.Context, relationName string) (maintenance.IntegritySummary, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Relations         RelationHost
	QueryEngine       query.Engine
	// Catalog is optional; without it definitions are not persisted and the
	// export history is unavailable.
	Catalog     catalog.Repository
	Exporter    ExportWriter
	Maintenance ExportMaintenance
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
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	queryTimeout := cfg.Query.Timeout
	defaultRowLimit := cfg.Query.DefaultRowLimit

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/relations", auth.RequireRole(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleListRelations(deps, w, r)
	}))
	protected.HandleFunc("POST /v1/relations", auth.RequireRole(auth.RoleRelationAdmin, func(w http.ResponseWriter, r *http.Request) {
		handleCreateRelation(deps, w, r)
	}))
	protected.HandleFunc("GET /v1/relations/{name}", auth.RequireRole(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleGetRelation(deps, w, r)
	}))
	protected.HandleFunc("DELETE /v1/relations/{name}", auth.RequireRole(auth.RoleRelationAdmin, func(w http.ResponseWriter, r *http.Request) {
		handleDropRelation(deps, w, r)
	}))
	protected.HandleFunc("POST /v1/relations/{name}/export", auth.RequireRole(auth.RoleRelationAdmin, func(w http.ResponseWriter, r *http.Request) {
		handleExportRelation(deps, w, r)
	}))
	protected.HandleFunc("GET /v1/relations/{name}/exports", auth.RequireRole(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleListExports(deps, w, r)
	}))
	protected.HandleFunc("GET /v1/exports/{key...}", auth.RequireRole(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleDownloadExport(deps, w, r)
	}))
	protected.HandleFunc("POST /v1/query", auth.RequireRole(auth.RoleQueryReader, func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, queryTimeout, defaultRowLimit, w, r)
	}))
	protected.HandleFunc("POST /v1/maintenance/retention", auth.RequireRole(auth.RoleRelationAdmin, func(w http.ResponseWriter, r *http.Request) {
		handleRetentionRun(deps, w, r)
	}))
	protected.HandleFunc("POST /v1/maintenance/integrity", auth.RequireRole(auth.RoleRelationAdmin, func(w http.ResponseWriter, r *http.Request) {
		handleIntegrityRun(deps, w, r)
	}))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/relations", protectedHandler)
	mux.Handle("POST /v1/relations", protectedHandler)
	mux.Handle("GET /v1/relations/{name}", protectedHandler)
	mux.Handle("DELETE /v1/relations/{name}", protectedHandler)
	mux.Handle("POST /v1/relations/{name}/export", protectedHandler)
	mux.Handle("GET /v1/relations/{name}/exports", protectedHandler)
	mux.Handle("GET /v1/exports/{key...}", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("POST /v1/maintenance/retention", protectedHandler)
	mux.Handle("POST /v1/maintenance/integrity", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckEngine reports whether the embedded database still answers.
func CheckEngine(pinger interface{ Ping(context.Context) error }) ReadinessCheck {
	if pinger == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := pinger.Ping(ctx); err != nil {
			return errors.New("query engine unavailable: " + err.Error())
		}
		return nil
	}
}

func CheckCatalog(repo catalog.Repository) ReadinessCheck {
	if repo == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := repo.HealthCheck(ctx); err != nil {
			return errors.New("catalog unavailable: " + err.Error())
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
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

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	observability.ObserveErrorCode(code)
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeRelationError maps relation lifecycle failures onto HTTP statuses.
func writeRelationError(r *http.Request, w http.ResponseWriter, err error) {
	details := map[string]any{"details": err.Error()}
	switch {
	case errors.Is(err, relation.ErrConfiguration):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENTS", "relation arguments are invalid", false, details)
	case errors.Is(err, duckdb.ErrRelationExists):
		writeError(r.Context(), w, http.StatusConflict, "RELATION_EXISTS", "relation already exists", false, details)
	case errors.Is(err, duckdb.ErrRelationNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "RELATION_NOT_FOUND", "relation was not found", false, details)
	case errors.Is(err, relation.ErrAuthentication):
		writeError(r.Context(), w, http.StatusBadGateway, "HARVEST_AUTH_FAILED", "telemetry service rejected the credentials", false, details)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", true, details)
	case errors.Is(err, relation.ErrTransport):
		writeError(r.Context(), w, http.StatusBadGateway, "HARVEST_UNAVAILABLE", "telemetry service request failed", true, details)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "relation operation failed", true, details)
	}
}
