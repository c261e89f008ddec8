package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/modules"
	"github.com/luigi-home/luigid/internal/validation"
)

// handleListModules serves the cheap module projection.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.modules.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list modules")
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// handleModuleStatus serves the full status of one module. A malformed
// name is audited here; the service only audits mutating verbs.
func (s *Server) handleModuleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	detail, err := s.modules.Status(r.Context(), name)
	if err != nil {
		if validation.IsValidationError(err) && s.auditor != nil {
			c := s.caller(r)
			s.auditor.Violation(c.Identity, c.IP, name, map[string]any{"error": err.Error()})
		}
		s.writeModuleError(w, r, name, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// operationResponse is the payload for a completed lifecycle verb.
type operationResponse struct {
	Module string         `json:"module"`
	Verb   string         `json:"verb"`
	Result command.Result `json:"result"`
}

func (s *Server) handleModuleStart(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, "start", s.modules.Start)
}

func (s *Server) handleModuleStop(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, "stop", s.modules.Stop)
}

func (s *Server) handleModuleRestart(w http.ResponseWriter, r *http.Request) {
	s.handleLifecycle(w, r, "restart", s.modules.Restart)
}

type lifecycleFunc func(ctx context.Context, name string, caller modules.Caller) (command.Result, error)

// handleLifecycle runs one mutating verb. The command itself runs on a
// background context: clients cannot cancel an in-flight privileged
// operation, and the result is audited regardless of the connection.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request, verb string, fn lifecycleFunc) {
	name := r.PathValue("name")
	caller := s.caller(r)

	result, err := fn(context.Background(), name, caller)
	if err != nil {
		s.writeModuleError(w, r, name, err)
		return
	}

	s.registryM.RecordOperation(verb, name, result.Success, result.Duration.Seconds())

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, operationResponse{Module: name, Verb: verb, Result: result})
}

// writeModuleError maps service errors onto HTTP responses.
func (s *Server) writeModuleError(w http.ResponseWriter, r *http.Request, name string, err error) {
	var notFound *modules.ErrNotFound
	switch {
	case validation.IsValidationError(err):
		s.registryM.Violations.Inc()
		WriteError(w, http.StatusBadRequest, "invalid module name")
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, "module not found")
	default:
		s.logger.Error("module operation failed", "module", name, "error", err)
		WriteError(w, http.StatusInternalServerError, "operation failed")
	}
}
