// File path: internal/extract/extract.go
package extract

import (
	"context"
	"os"
	"strings"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/extract/providers"
)

type Extractor = providers.Extractor

// NewExtractor selects the extraction provider from the environment. A
// configured GEMINI_PROJECT_ID selects Vertex AI; anything else falls back
// to the local sidecar provider so the service still starts offline.
func NewExtractor(ctx context.Context) Extractor {
	logger := common.Logger()
	projectID := strings.TrimSpace(os.Getenv("GEMINI_PROJECT_ID"))
	if projectID != "" {
		location := strings.TrimSpace(os.Getenv("GEMINI_LOCATION"))
		model := strings.TrimSpace(os.Getenv("GEMINI_MODEL"))
		provider, err := providers.NewGeminiProvider(ctx, projectID, location, model)
		if err != nil {
			logger.Warn("extract: gemini provider unavailable, falling back to local provider", "error", err)
		} else {
			logger.Info("extract: gemini provider selected")
			return provider
		}
	} else {
		logger.Warn("extract: GEMINI_PROJECT_ID not set, falling back to local provider")
	}
	return providers.NewLocalProvider()
}
