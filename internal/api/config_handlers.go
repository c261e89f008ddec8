package api

import (
	"io"
	"net/http"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v2"
)

// handleRegistryShow serves the current module registry snapshot.
func (s *Server) handleRegistryShow(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"path":    s.registry.Path(),
		"modules": s.registry.List(),
	})
}

// handleRegistryDiff previews a proposed registry file against the one
// on disk as a unified diff. Nothing is written; applying the change is
// done out of band and picked up by the watcher.
func (s *Server) handleRegistryDiff(w http.ResponseWriter, r *http.Request) {
	proposed, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(proposed) == 0 {
		WriteError(w, http.StatusBadRequest, "empty registry content")
		return
	}

	// The proposed content must at least be valid YAML before a diff
	// is worth showing.
	var probe map[string]any
	if err := yaml.Unmarshal(proposed, &probe); err != nil {
		WriteError(w, http.StatusBadRequest, "proposed registry is not valid YAML", err.Error())
		return
	}

	current, err := os.ReadFile(s.registry.Path())
	if err != nil {
		s.logger.Error("registry read failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "cannot read current registry")
		return
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(proposed)),
		FromFile: "current",
		ToFile:   "proposed",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "diff failed")
		return
	}

	if text == "" {
		text = "No changes.\n"
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(text))
}
