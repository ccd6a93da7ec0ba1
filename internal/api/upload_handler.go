// File path: internal/api/upload_handler.go
package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/common/telemetry"
	"github.com/comexa/docverifier/internal/document"
)

// uploadMemoryLimit bounds how much of a multipart body stays in memory
// before spilling to temp files.
const uploadMemoryLimit = 8 << 20

const supportedTypes = "pdf, xlsx, xls, jpg, jpeg, png"

// allowedExtensions lists the upload types the extractor understands.
var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".xlsx": {},
	".xls":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

var (
	errNoFilename      = errors.New("no file selected")
	errUnsupportedType = errors.New("file type not allowed. Supported: " + supportedTypes)
	errInvalidPDF      = errors.New("invalid pdf upload")
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.formError(w, err)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
		return
	}
	role := document.ParseRole(r.FormValue("doc_type"))

	saved, err := s.saveUpload(headers[0], role)
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}
	logger.Info("api: upload stored", "filename", saved.name, "doc_type", role, "size", saved.size)
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:      true,
		Filename:     saved.name,
		OriginalName: saved.original,
		DocType:      string(role),
		Size:         saved.size,
		Path:         saved.path,
		Pages:        saved.pages,
	})
}

// formError maps multipart parse failures onto the wire: the size cap
// trips 413, everything else is a malformed request.
func (s *Server) formError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("file too large. Maximum size: %dMB", s.maxUpload>>20))
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload form: %w", err))
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, errNoFilename), errors.Is(err, errUnsupportedType), errors.Is(err, errInvalidPDF):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type storedUpload struct {
	name     string
	original string
	path     string
	size     int64
	pages    int
}

// saveUpload writes one multipart file part into the upload directory under
// a timestamped name. PDF parts must survive a relaxed pdfcpu validation
// before they are accepted.
func (s *Server) saveUpload(header *multipart.FileHeader, role document.Role) (*storedUpload, error) {
	original := sanitizeFilename(header.Filename)
	if original == "" {
		return nil, errNoFilename
	}
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, errUnsupportedType
	}
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%s_%s_%s", time.Now().Format("20060102_150405"), role, original)
	dest := filepath.Join(s.uploadDir, name)
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create destination file: %w", err)
	}
	size, err := io.Copy(dst, src)
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(dest)
		return nil, fmt.Errorf("write destination file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("close destination file: %w", err)
	}

	stored := &storedUpload{name: name, original: original, path: dest, size: size}
	if ext == ".pdf" {
		pages, err := checkPDF(dest)
		if err != nil {
			_ = os.Remove(dest)
			return nil, fmt.Errorf("%w: %v", errInvalidPDF, err)
		}
		stored.pages = pages
	}
	telemetry.RecordUpload(string(role))
	return stored, nil
}

// checkPDF validates the stored file as a PDF and returns its page count.
func checkPDF(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := pdfapi.ValidateFile(path, conf); err != nil {
		return 0, err
	}
	return pdfapi.PageCountFile(path)
}

// sanitizeFilename reduces a client-supplied filename to a safe basename:
// path components are stripped and anything outside [A-Za-z0-9._-] becomes
// an underscore.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
