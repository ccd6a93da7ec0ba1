// File path: internal/report/store.go
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comexa/docverifier/internal/common"
)

// ErrInvalidName flags report names that could escape the output directory.
var ErrInvalidName = errors.New("invalid report name")

// Meta describes one stored report file.
type Meta struct {
	Filename string `json:"filename"`
	Created  string `json:"created"`
	Size     int64  `json:"size"`
}

// Store persists workflow reports as pretty-printed JSON files in a single
// output directory.
type Store struct {
	dir string

	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("report directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Save writes the report under a timestamped name with a short random
// suffix, so two workflows finishing in the same second never collide.
func (s *Store) Save(wf *Workflow) (Meta, error) {
	if wf == nil {
		return Meta{}, errors.New("nil report")
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("encode report: %w", err)
	}

	name := fmt.Sprintf("report_%s_%s.json", s.now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write report: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Meta{}, fmt.Errorf("stat report: %w", err)
	}
	common.Logger().Info("report: saved", "filename", name, "size", info.Size())
	return Meta{Filename: name, Created: info.ModTime().UTC().Format(time.RFC3339), Size: info.Size()}, nil
}

// List returns every stored report, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read report directory: %w", err)
	}

	reports := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, Meta{
			Filename: entry.Name(),
			Created:  info.ModTime().UTC().Format(time.RFC3339),
			Size:     info.Size(),
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Created > reports[j].Created })
	return reports, nil
}

// Open returns the raw bytes of one stored report. Names are restricted to
// plain .json files inside the output directory.
func (s *Store) Open(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || !strings.HasSuffix(name, ".json") {
		return nil, ErrInvalidName
	}
	return os.ReadFile(filepath.Join(s.dir, name))
}
