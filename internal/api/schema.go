package api

import (
	"net/http"
	"time"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/schema"
)

type schemaResponse struct {
	Tables   []schema.TableSpec `json:"tables"`
	LoadedAt string             `json:"loaded_at"`
	Rendered string             `json:"rendered"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "schema_not_configured", "schema dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "forbidden", err.Error(), false, nil)
		return
	}

	writeJSON(w, http.StatusOK, schemaResponseFrom(deps.Schema.Current()))
}

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "schema_not_configured", "schema dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "forbidden", err.Error(), false, nil)
		return
	}

	descriptor, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "schema_refresh_failed", err.Error(), true, nil)
		return
	}
	observability.IncrementSchemaRefresh()

	writeJSON(w, http.StatusOK, schemaResponseFrom(descriptor))
}

func schemaResponseFrom(descriptor schema.Descriptor) schemaResponse {
	return schemaResponse{
		Tables:   descriptor.Tables,
		LoadedAt: descriptor.LoadedAt.UTC().Format(time.RFC3339),
		Rendered: descriptor.Render(),
	}
}
