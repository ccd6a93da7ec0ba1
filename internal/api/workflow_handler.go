// File path: internal/api/workflow_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/common/telemetry"
	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/pipeline"
)

// workflowRoles orders the multipart fields a complete verification accepts.
var workflowRoles = []document.Role{document.RoleBL, document.RoleInvoice, document.RolePacking}

func (s *Server) handleProcessComplete(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()
	force := r.URL.Query().Get("force") == "1"

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.formError(w, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	files, err := s.saveWorkflowFiles(r)
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}
	logger.Info("api: complete verification requested", "files", len(files), "force", force)
	result, err := s.pipeline.ProcessWorkflow(ctx, workflowInput(files), force)
	if err != nil {
		writeError(w, workflowStatus(err), err)
		return
	}
	resp := workflowResponse{
		Success:      true,
		Report:       result.Report,
		Cached:       result.Cached,
		WorkflowHash: result.WorkflowKey,
		Files:        files,
	}
	if !result.Cached {
		resp.ReportFile = result.ReportFile
		forced := result.Forced
		resp.Forced = &forced
	}
	logger.Info(
		"api: complete verification finished",
		"cached", result.Cached,
		"workflow_hash", result.WorkflowKey,
		"forced", result.Forced,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReverify(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.formError(w, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	files, err := s.saveWorkflowFiles(r)
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}
	logger.Info("api: reverification requested", "files", len(files))
	result, err := s.pipeline.Reverify(ctx, workflowInput(files))
	if err != nil {
		writeError(w, workflowStatus(err), err)
		return
	}
	logger.Info("api: reverification finished", "workflow_hash", result.WorkflowKey)
	writeJSON(w, http.StatusOK, reverifyResponse{Success: true, Report: result.Report})
}

// saveWorkflowFiles stores every recognised document part of an already
// parsed multipart request and returns role -> stored path. Parts with an
// empty filename are skipped the same way absent parts are.
func (s *Server) saveWorkflowFiles(r *http.Request) (map[string]string, error) {
	logger := common.Logger()
	files := make(map[string]string, len(workflowRoles))
	if r.MultipartForm == nil {
		return files, nil
	}
	for _, role := range workflowRoles {
		headers := r.MultipartForm.File[string(role)]
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		if strings.TrimSpace(header.Filename) == "" {
			continue
		}
		saved, err := s.saveUpload(header, role)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", role, err)
		}
		files[string(role)] = saved.path
		logger.Info("api: workflow document stored", "doc_type", role, "filename", saved.name)
	}
	return files, nil
}

func workflowInput(files map[string]string) pipeline.WorkflowInput {
	return pipeline.WorkflowInput{
		BLPath:      files[string(document.RoleBL)],
		InvoicePath: files[string(document.RoleInvoice)],
		PackingPath: files[string(document.RolePacking)],
	}
}

func workflowStatus(err error) int {
	if errors.Is(err, pipeline.ErrMissingDocuments) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := common.LogEntries()
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, telemetry.Snapshot())
}
