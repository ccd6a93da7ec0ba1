// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"context"
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/comexa/docverifier/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	documentCacheHits   *expvar.Map
	documentCacheMisses *expvar.Map

	workflowCacheHits   *expvar.Int
	workflowCacheMisses *expvar.Int

	extractionsTotal    *expvar.Int
	extractionFailures  *expvar.Int
	extractionLatencyMS *expvar.Int

	uploadsTotal *expvar.Map
	reportsSaved *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		documentCacheHits = expvar.NewMap("docverifier_document_cache_hits")
		documentCacheMisses = expvar.NewMap("docverifier_document_cache_misses")

		workflowCacheHits = expvar.NewInt("docverifier_workflow_cache_hits")
		workflowCacheMisses = expvar.NewInt("docverifier_workflow_cache_misses")

		extractionsTotal = expvar.NewInt("docverifier_extractions_total")
		extractionFailures = expvar.NewInt("docverifier_extraction_failures")
		extractionLatencyMS = expvar.NewInt("docverifier_extraction_latency_ms")

		uploadsTotal = expvar.NewMap("docverifier_uploads_total")
		reportsSaved = expvar.NewInt("docverifier_reports_saved")
	})
}

func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		if sp == nil {
			return
		}
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

func SpanDuration(ctx context.Context) time.Duration {
	sp, _ := ctx.Value(spanKey{}).(*span)
	if sp == nil {
		return 0
	}
	return time.Since(sp.start)
}

func roleKey(role string) string {
	key := strings.TrimSpace(strings.ToLower(role))
	if key == "" {
		return "unknown"
	}
	return key
}

// RecordDocumentCache counts one document cache lookup, keyed by role.
func RecordDocumentCache(role string, hit bool) {
	ensureInit()
	if hit {
		documentCacheHits.Add(roleKey(role), 1)
	} else {
		documentCacheMisses.Add(roleKey(role), 1)
	}
}

// RecordWorkflowCache counts one workflow cache lookup.
func RecordWorkflowCache(hit bool) {
	ensureInit()
	if hit {
		workflowCacheHits.Add(1)
	} else {
		workflowCacheMisses.Add(1)
	}
}

// RecordExtraction counts one provider call. Failed extractions are those
// absorbed into all-null records.
func RecordExtraction(duration time.Duration, failed bool) {
	ensureInit()
	extractionsTotal.Add(1)
	if failed {
		extractionFailures.Add(1)
	}
	if duration > 0 {
		extractionLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordUpload counts one stored upload, keyed by role.
func RecordUpload(role string) {
	ensureInit()
	uploadsTotal.Add(roleKey(role), 1)
}

// RecordReportSaved counts one report file written to disk.
func RecordReportSaved() {
	ensureInit()
	reportsSaved.Add(1)
}

// Stats is a point-in-time copy of the counters, shaped for the stats
// endpoint.
type Stats struct {
	DocumentCacheHits   map[string]int64 `json:"document_cache_hits"`
	DocumentCacheMisses map[string]int64 `json:"document_cache_misses"`
	WorkflowCacheHits   int64            `json:"workflow_cache_hits"`
	WorkflowCacheMisses int64            `json:"workflow_cache_misses"`
	Extractions         int64            `json:"extractions"`
	ExtractionFailures  int64            `json:"extraction_failures"`
	ExtractionLatencyMS int64            `json:"extraction_latency_ms"`
	Uploads             map[string]int64 `json:"uploads"`
	ReportsSaved        int64            `json:"reports_saved"`
}

func Snapshot() Stats {
	ensureInit()
	return Stats{
		DocumentCacheHits:   mapValues(documentCacheHits),
		DocumentCacheMisses: mapValues(documentCacheMisses),
		WorkflowCacheHits:   workflowCacheHits.Value(),
		WorkflowCacheMisses: workflowCacheMisses.Value(),
		Extractions:         extractionsTotal.Value(),
		ExtractionFailures:  extractionFailures.Value(),
		ExtractionLatencyMS: extractionLatencyMS.Value(),
		Uploads:             mapValues(uploadsTotal),
		ReportsSaved:        reportsSaved.Value(),
	}
}

func mapValues(m *expvar.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			out[kv.Key] = v.Value()
		}
	})
	return out
}
