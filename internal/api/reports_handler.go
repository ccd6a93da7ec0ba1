// File path: internal/api/reports_handler.go
package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/report"
)

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	metas, err := s.reports.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list reports: %w", err))
		return
	}
	if metas == nil {
		metas = []report.Meta{}
	}
	writeJSON(w, http.StatusOK, reportListResponse{Success: true, Reports: metas, Count: len(metas)})
}

func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	name := chi.URLParam(r, "name")
	data, err := s.reports.Open(name)
	switch {
	case errors.Is(err, report.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, fmt.Errorf("report not found"))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("api: report downloaded", "filename", name)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
