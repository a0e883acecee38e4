package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/resultset"
)

type executeRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type columnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type resultPayload struct {
	Columns     []columnPayload `json:"columns"`
	Rows        [][]any         `json:"rows"`
	RowCount    int             `json:"row_count"`
	Truncated   bool            `json:"truncated"`
	ExecutionMs int64           `json:"execution_ms"`
}

type executeResponse struct {
	resultPayload
	ReferencedTables []string `json:"referenced_tables"`
}

func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "execute_not_configured", "execution dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "forbidden", err.Error(), false, nil)
		return
	}

	var request executeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_json", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "sql_required", "sql is required", false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_row_limit", "row_limit must not be negative", false, nil)
		return
	}

	verdict, result, err := deps.Pipeline.Execute(r.Context(), request.SQL, request.RowLimit)
	if err != nil {
		writePipelineError(r, w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		resultPayload:    payloadFromResult(result),
		ReferencedTables: verdict.ReferencedTables,
	})
}

func payloadFromResult(result resultset.Result) resultPayload {
	columns := make([]columnPayload, 0, len(result.Columns))
	for _, column := range result.Columns {
		columns = append(columns, columnPayload{Name: column.Name, Type: column.Type})
	}
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return resultPayload{
		Columns:     columns,
		Rows:        rows,
		RowCount:    result.RowCount,
		Truncated:   result.Truncated,
		ExecutionMs: result.Duration.Milliseconds(),
	}
}
