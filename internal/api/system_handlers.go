package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/system"
)

// handleSystemMetrics serves the read-only host metrics snapshot.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.system.Metrics()
	if err != nil {
		s.logger.Error("host metrics read failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to read system metrics")
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

// confirmRequest is the body expected by destructive system verbs.
type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

// systemResponse is the payload for a completed system verb.
type systemResponse struct {
	Verb   string         `json:"verb"`
	Result command.Result `json:"result"`
}

// handleSystemVerb builds the handler for one host-level verb. The
// confirm flag is the only caller input; it never reaches the command.
func (s *Server) handleSystemVerb(verb system.Verb) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := s.caller(r)

		var req confirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := s.system.Execute(context.Background(), verb, req.Confirm, caller)
		if err != nil {
			if errors.Is(err, system.ErrConfirmationRequired) {
				WriteError(w, http.StatusBadRequest, "confirmation required", `set "confirm": true to proceed`)
				return
			}
			s.logger.Error("system operation failed", "verb", string(verb), "error", err)
			WriteError(w, http.StatusInternalServerError, "operation failed")
			return
		}

		s.registryM.RecordOperation(string(verb), "system", result.Success, result.Duration.Seconds())

		status := http.StatusOK
		if !result.Success {
			status = http.StatusInternalServerError
		}
		WriteJSON(w, status, systemResponse{Verb: string(verb), Result: result})
	}
}
