// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/extract"
	"github.com/comexa/docverifier/internal/pipeline"
	"github.com/comexa/docverifier/internal/report"
)

// version is reported by the health endpoint; the frontend pins against it.
const version = "2.0.0"

type Server struct {
	router    chi.Router
	pipeline  *pipeline.Pipeline
	reports   *report.Store
	extractor extract.Extractor
	uploadDir string
	maxUpload int64
}

// Config controls where the API server stores uploaded documents and how
// large a single upload request may be.
type Config struct {
	UploadDir      string
	MaxUploadBytes int64
}

// DefaultConfig returns the standard configuration used when no overrides
// are provided.
func DefaultConfig() Config {
	return Config{
		UploadDir:      "uploads",
		MaxUploadBytes: 20 << 20,
	}
}

// Merge overlays non-zero configuration values from the override onto the
// base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.UploadDir) != "" {
		result.UploadDir = strings.TrimSpace(override.UploadDir)
	}
	if override.MaxUploadBytes > 0 {
		result.MaxUploadBytes = override.MaxUploadBytes
	}
	return result
}

func NewServer(pipe *pipeline.Pipeline, reports *report.Store, extractor extract.Extractor, cfg *Config) (*Server, error) {
	logger := common.Logger()
	if pipe == nil {
		return nil, fmt.Errorf("pipeline required")
	}
	if reports == nil {
		return nil, fmt.Errorf("report store required")
	}
	configuration := DefaultConfig()
	if cfg != nil {
		configuration = configuration.Merge(*cfg)
	}
	if err := os.MkdirAll(configuration.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	extractorName := "none"
	if extractor != nil {
		extractorName = extractor.Name()
	}
	logger.Info(
		"api: building server",
		"extractor", extractorName,
		"upload_dir", configuration.UploadDir,
		"max_upload_bytes", configuration.MaxUploadBytes,
	)
	srv := &Server{
		router:    chi.NewRouter(),
		pipeline:  pipe,
		reports:   reports,
		extractor: extractor,
		uploadDir: configuration.UploadDir,
		maxUpload: configuration.MaxUploadBytes,
	}
	srv.routes()
	logger.Info("api: server ready", "routes", true)
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/upload", s.handleUpload)
	s.router.Post("/api/extract", s.handleExtract)
	s.router.Post("/api/process-complete", s.handleProcessComplete)
	s.router.Post("/api/reverify", s.handleReverify)
	s.router.Get("/api/reports", s.handleReports)
	s.router.Get("/api/reports/{name}", s.handleReportDownload)
	s.router.Get("/api/logs", s.handleLogs)
	s.router.Get("/api/stats", s.handleStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := "none"
	if s.extractor != nil {
		name = s.extractor.Name()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		OK:        true,
		Timestamp: time.Now().Format(time.RFC3339),
		AIEnabled: s.extractor != nil && name != "local",
		Extractor: name,
		Version:   version,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
