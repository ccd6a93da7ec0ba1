// File path: internal/api/extract_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/document"
)

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("api: extract decode failed", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Filepath = strings.TrimSpace(req.Filepath)
	if req.Filepath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no filepath provided"))
		return
	}
	if _, err := os.Stat(req.Filepath); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("file not found: %s", req.Filepath))
		return
	}
	role := document.ParseRole(req.DocType)
	logger.Info("api: extract requested", "filepath", req.Filepath, "doc_type", role, "force", req.Force)
	record, cached, err := s.pipeline.ExtractOne(ctx, req.Filepath, role, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("api: extract finished", "doc_type", role, "cached", cached)
	writeJSON(w, http.StatusOK, extractResponse{Success: true, DocType: string(role), Data: record})
}
