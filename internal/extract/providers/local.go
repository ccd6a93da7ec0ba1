// File path: internal/extract/providers/local.go
package providers

import (
	"context"
	"encoding/json"
	"os"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/document"
)

// Extractor turns one uploaded document into a structured record. Providers
// never return an error: any failure is absorbed into an all-null record
// whose extraction_method carries the failure text, so one bad document
// cannot abort a whole workflow.
type Extractor interface {
	Extract(ctx context.Context, path string, role document.Role) *document.Record
	Name() string
}

// LocalProvider is the offline fallback used when no Gemini project is
// configured. It answers from a JSON sidecar file (<path>.json) when one
// exists, which keeps development and tests independent of the API.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Extract(ctx context.Context, path string, role document.Role) *document.Record {
	logger := common.Logger()
	if _, err := os.Stat(path); err != nil {
		logger.Warn("extract: local provider cannot read document", "path", path, "error", err)
		return document.Failed("Local Error: " + err.Error())
	}

	sidecar := path + ".json"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		logger.Debug("extract: no sidecar for document, returning empty record", "path", path, "role", role)
		return &document.Record{ExtractionMethod: "Local Stub"}
	}

	var record document.Record
	if err := json.Unmarshal(data, &record); err != nil {
		logger.Warn("extract: sidecar is not valid JSON", "path", sidecar, "error", err)
		return document.Failed("Local Error: " + err.Error())
	}
	if record.ExtractionMethod == "" {
		record.ExtractionMethod = "Local Sidecar"
	}
	return &record
}

func (l *LocalProvider) Name() string {
	return "local"
}
