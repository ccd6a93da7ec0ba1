// File path: internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/comexa/docverifier/internal/cache"
	"github.com/comexa/docverifier/internal/cnpj"
	"github.com/comexa/docverifier/internal/common"
	"github.com/comexa/docverifier/internal/common/telemetry"
	"github.com/comexa/docverifier/internal/compare"
	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/extract"
	"github.com/comexa/docverifier/internal/hashing"
	"github.com/comexa/docverifier/internal/report"
)

// ErrMissingDocuments rejects workflow requests without the two mandatory
// documents.
var ErrMissingDocuments = errors.New("at least BL and Invoice are required")

// extractParallelism bounds concurrent provider calls within one workflow.
const extractParallelism = 3

// WorkflowInput names the stored files for each document slot. BL and
// Invoice are mandatory; Packing is optional.
type WorkflowInput struct {
	BLPath      string
	InvoicePath string
	PackingPath string
}

// WorkflowResult couples the built report with its cache provenance.
type WorkflowResult struct {
	Report      *report.Workflow
	WorkflowKey string
	Cached      bool
	ReportFile  string
	Forced      bool
}

// Pipeline runs the extract-validate-compare flow over a cache store, an
// extraction provider and a report store.
type Pipeline struct {
	store     cache.Store
	extractor extract.Extractor
	reports   *report.Store

	// now is swappable so tests can pin report timestamps.
	now func() time.Time
}

func New(store cache.Store, extractor extract.Extractor, reports *report.Store) *Pipeline {
	return &Pipeline{store: store, extractor: extractor, reports: reports, now: time.Now}
}

// ExtractOne extracts a single stored document, consulting the document
// cache unless force is set. The returned flag reports whether the record
// came from cache. Only input problems (an unreadable file) produce an
// error; extraction failures come back as absorbed records.
func (p *Pipeline) ExtractOne(ctx context.Context, path string, role document.Role, force bool) (*document.Record, bool, error) {
	hash, err := hashing.HashFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("hash document: %w", err)
	}
	record, cached := p.extractWithCache(ctx, path, hash, role, force)
	return record, cached, nil
}

// ProcessWorkflow runs the full pipeline over BL, Invoice and an optional
// Packing List. With force set, the workflow cache entry for this exact file
// combination is deleted before recomputing, so a stale report can never
// resurface.
func (p *Pipeline) ProcessWorkflow(ctx context.Context, in WorkflowInput, force bool) (*WorkflowResult, error) {
	return p.run(ctx, in, runOptions{force: force, saveReport: true})
}

// Reverify recomputes the workflow with force semantics and additionally
// purges every supplied document's cache entries across all roles, so no
// stale per-document data leaks into the refreshed report.
func (p *Pipeline) Reverify(ctx context.Context, in WorkflowInput) (*WorkflowResult, error) {
	return p.run(ctx, in, runOptions{force: true, purgeDocuments: true})
}

type runOptions struct {
	force          bool
	purgeDocuments bool
	saveReport     bool
}

type slot struct {
	role document.Role
	path string
	hash string
}

func (p *Pipeline) run(ctx context.Context, in WorkflowInput, opts runOptions) (*WorkflowResult, error) {
	if in.BLPath == "" || in.InvoicePath == "" {
		return nil, ErrMissingDocuments
	}
	ctx, done := telemetry.StartSpan(ctx, "pipeline.workflow")
	defer done()
	logger := common.Logger()

	// Hash every input before touching any cache. Unreadable input aborts
	// the workflow with nothing mutated.
	blHash, err := hashing.HashFile(in.BLPath)
	if err != nil {
		return nil, fmt.Errorf("hash bl: %w", err)
	}
	invoiceHash, err := hashing.HashFile(in.InvoicePath)
	if err != nil {
		return nil, fmt.Errorf("hash invoice: %w", err)
	}
	packingHash := ""
	if in.PackingPath != "" {
		packingHash, err = hashing.HashFile(in.PackingPath)
		if err != nil {
			return nil, fmt.Errorf("hash packing: %w", err)
		}
	}
	key := hashing.WorkflowKey(blHash, invoiceHash, packingHash)

	if opts.force {
		if err := p.store.DeleteWorkflow(ctx, key); err != nil {
			logger.Warn("pipeline: workflow cache delete failed", "error", err)
		}
	} else {
		wf, ok, err := p.store.GetWorkflow(ctx, key)
		if err != nil {
			logger.Warn("pipeline: workflow cache read failed", "error", err)
		} else if ok {
			logger.Info("pipeline: workflow cache hit, returning stored report", "key", key)
			telemetry.RecordWorkflowCache(true)
			return &WorkflowResult{Report: wf, WorkflowKey: key, Cached: true}, nil
		}
		telemetry.RecordWorkflowCache(false)
	}

	slots := []slot{
		{role: document.RoleBL, path: in.BLPath, hash: blHash},
		{role: document.RoleInvoice, path: in.InvoicePath, hash: invoiceHash},
	}
	if in.PackingPath != "" {
		slots = append(slots, slot{role: document.RolePacking, path: in.PackingPath, hash: packingHash})
	}

	if opts.purgeDocuments {
		for _, hash := range distinctHashes(slots) {
			if err := p.store.DeleteDocument(ctx, hash, ""); err != nil {
				logger.Warn("pipeline: document cache purge failed", "hash", hash, "error", err)
			}
		}
	}

	records := make([]*document.Record, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractParallelism)
	for i, s := range slots {
		g.Go(func() error {
			records[i], _ = p.extractWithCache(gctx, s.path, s.hash, s.role, opts.force)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	processed := make([]string, 0, len(slots))
	extracted := make(map[string]*document.Record, len(slots))
	for i, s := range slots {
		processed = append(processed, string(s.role))
		extracted[string(s.role)] = records[i]
	}

	var validation *cnpj.Validation
	if id := firstCNPJ(extracted); id != "" {
		v := cnpj.Check(id)
		validation = &v
	}

	var packingRecord *document.Record
	if in.PackingPath != "" {
		packingRecord = extracted[string(document.RolePacking)]
	}
	comparison := compare.Compare(extracted[string(document.RoleBL)], extracted[string(document.RoleInvoice)], packingRecord)

	wf := &report.Workflow{
		Timestamp:          p.now().Format(time.RFC3339),
		DocumentsProcessed: processed,
		ExtractedData:      extracted,
		CNPJValidation:     validation,
		Comparison:         comparison,
		Summary:            report.BuildSummary(comparison),
	}

	if err := p.store.PutWorkflow(ctx, key, blHash, invoiceHash, packingHash, wf); err != nil {
		logger.Warn("pipeline: workflow cache write failed", "error", err)
	}

	result := &WorkflowResult{Report: wf, WorkflowKey: key, Forced: opts.force}
	if opts.saveReport && p.reports != nil {
		meta, err := p.reports.Save(wf)
		if err != nil {
			logger.Warn("pipeline: report save failed", "error", err)
		} else {
			result.ReportFile = meta.Filename
			telemetry.RecordReportSaved()
		}
	}
	logger.Info("pipeline: workflow complete",
		"checks", comparison.TotalChecks, "passed", comparison.Passed, "failed", comparison.Failed, "forced", opts.force)
	return result, nil
}

// extractWithCache serves one document from the cache when allowed, and
// otherwise extracts and overwrites the cache entry. Cache read failures
// degrade to a miss; write failures are logged and dropped.
func (p *Pipeline) extractWithCache(ctx context.Context, path, hash string, role document.Role, force bool) (*document.Record, bool) {
	logger := common.Logger()
	if !force {
		record, ok, err := p.store.GetDocument(ctx, hash, role)
		if err != nil {
			logger.Warn("pipeline: document cache read failed", "role", role, "error", err)
		} else if ok {
			logger.Info("pipeline: document cache hit", "role", role)
			telemetry.RecordDocumentCache(string(role), true)
			return record, true
		}
		telemetry.RecordDocumentCache(string(role), false)
	}

	logger.Info("pipeline: extracting document", "role", role, "force", force)
	start := time.Now()
	record := p.extractor.Extract(ctx, path, role)
	telemetry.RecordExtraction(time.Since(start), record.FailedExtraction())

	if err := p.store.PutDocument(ctx, hash, role, filepath.Base(path), record); err != nil {
		logger.Warn("pipeline: document cache write failed", "role", role, "error", err)
	}
	return record, false
}

func distinctHashes(slots []slot) []string {
	seen := make(map[string]struct{}, len(slots))
	hashes := make([]string, 0, len(slots))
	for _, s := range slots {
		if _, ok := seen[s.hash]; ok {
			continue
		}
		seen[s.hash] = struct{}{}
		hashes = append(hashes, s.hash)
	}
	return hashes
}

// firstCNPJ picks the tax ID to validate: BL first, Invoice as fallback.
func firstCNPJ(extracted map[string]*document.Record) string {
	for _, role := range []document.Role{document.RoleBL, document.RoleInvoice} {
		if rec := extracted[string(role)]; rec != nil && rec.CNPJ != nil && strings.TrimSpace(*rec.CNPJ) != "" {
			return *rec.CNPJ
		}
	}
	return ""
}
