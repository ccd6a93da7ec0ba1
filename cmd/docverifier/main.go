// File path: cmd/docverifier/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/config"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("docverifier: .env file not loaded", "error", err)
	} else {
		logger.Info("docverifier: environment loaded from .env")
	}

	addr := flag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	dbPath := flag.String("db", "", "path to the SQLite cache database (overrides CACHE_DB_PATH)")
	uploadDir := flag.String("uploads", "", "directory for uploaded documents (overrides UPLOAD_DIR)")
	outputDir := flag.String("outputs", "", "directory for generated reports (overrides OUTPUT_DIR)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("docverifier: config load failed", "error", err)
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.HTTPAddr = trimmed
	}
	if trimmed := strings.TrimSpace(*dbPath); trimmed != "" {
		cfg.CacheDBPath = trimmed
	}
	if trimmed := strings.TrimSpace(*uploadDir); trimmed != "" {
		cfg.UploadDir = trimmed
	}
	if trimmed := strings.TrimSpace(*outputDir); trimmed != "" {
		cfg.OutputDir = trimmed
	}

	logger.Info(
		"docverifier: startup initiated",
		"addr", cfg.HTTPAddr,
		"cache_backend", cfg.CacheBackend,
		"cache_enabled", cfg.Enabled(),
		"cache_ttl_days", cfg.TTLDays(),
	)

	services, err := buildServices(ctx, cfg)
	if err != nil {
		logger.Error("docverifier: service construction failed", "error", err)
		fmt.Println("startup error:", err)
		os.Exit(1)
	}
	defer services.Close()

	logger.Info("docverifier: server listening", "addr", cfg.HTTPAddr, "health", "/api/health")
	fmt.Printf("Serving on %s\n", cfg.HTTPAddr)
	reachable := cfg.HTTPAddr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("docverifier: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/api/health", reachable))
	if err := http.ListenAndServe(cfg.HTTPAddr, services.Server); err != nil {
		logger.Error("docverifier: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}
