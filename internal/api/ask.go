package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/auth"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	resultPayload
	SQL              string   `json:"sql"`
	Model            string   `json:"model"`
	ReferencedTables []string `json:"referenced_tables"`
}

const maxQuestionRunes = 2000

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil || deps.Pipeline.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ask_not_configured", "question answering is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "forbidden", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_json", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(request.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "question_required", "question is required", false, nil)
		return
	}
	if len([]rune(question)) > maxQuestionRunes {
		writeError(r.Context(), w, http.StatusBadRequest, "question_too_long", "question exceeds the maximum length", false, nil)
		return
	}

	answer, err := deps.Pipeline.Ask(r.Context(), question)
	if err != nil {
		writePipelineError(r, w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		resultPayload:    payloadFromResult(answer.Result),
		SQL:              answer.SQL,
		Model:            answer.Model,
		ReferencedTables: answer.ReferencedTables,
	})
}
