// File path: internal/api/types.go
package api

import (
	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/report"
)

type healthResponse struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
	AIEnabled bool   `json:"ai_enabled"`
	Extractor string `json:"extractor"`
	Version   string `json:"version"`
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	DocType      string `json:"doc_type"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
	Pages        int    `json:"pages,omitempty"`
}

type extractRequest struct {
	Filepath string `json:"filepath"`
	DocType  string `json:"doc_type"`
	Force    bool   `json:"force"`
}

type extractResponse struct {
	Success bool             `json:"success"`
	DocType string           `json:"doc_type"`
	Data    *document.Record `json:"data"`
}

// workflowResponse serves both cache outcomes: a replayed report omits
// report_file and forced, a fresh one carries them.
type workflowResponse struct {
	Success      bool              `json:"success"`
	Report       *report.Workflow  `json:"report"`
	ReportFile   string            `json:"report_file,omitempty"`
	Cached       bool              `json:"cached"`
	WorkflowHash string            `json:"workflow_hash"`
	Files        map[string]string `json:"files"`
	Forced       *bool             `json:"forced,omitempty"`
}

type reverifyResponse struct {
	Success bool             `json:"success"`
	Report  *report.Workflow `json:"report"`
}

type reportListResponse struct {
	Success bool          `json:"success"`
	Reports []report.Meta `json:"reports"`
	Count   int           `json:"count"`
}
