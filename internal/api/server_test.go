// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/comexa/docverifier/internal/cache"
	"github.com/comexa/docverifier/internal/common/telemetry"
	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/pipeline"
	"github.com/comexa/docverifier/internal/report"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls map[document.Role]int
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, role document.Role) *document.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[document.Role]int)
	}
	f.calls[role]++
	shipper := "ACME EXPORT LLC"
	consignee := "IMPORTADORA BRASIL LTDA"
	cnpj := "11.222.333/0001-81"
	packages := 120
	weight := 4530.5
	confidence := 0.9
	return &document.Record{
		ShipperName:      &shipper,
		Consignee:        &consignee,
		CNPJ:             &cnpj,
		Packages:         &packages,
		GrossWeight:      &weight,
		Confidence:       &confidence,
		ExtractionMethod: "fake",
	}
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) callCount(role document.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func newTestServer(t *testing.T) (*Server, *fakeExtractor, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.OpenSQLite(filepath.Join(dir, "cache.db"), cache.Config{Enabled: true, TTLDays: 90})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reports, err := report.NewStore(filepath.Join(dir, "outputs"))
	if err != nil {
		t.Fatalf("report store: %v", err)
	}
	extractor := &fakeExtractor{}
	pipe := pipeline.New(store, extractor, reports)
	uploadDir := filepath.Join(dir, "uploads")
	srv, err := NewServer(pipe, reports, extractor, &Config{UploadDir: uploadDir})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, extractor, uploadDir
}

type filePart struct {
	field   string
	name    string
	content []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts []filePart) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	for _, part := range parts {
		fw, err := writer.CreateFormFile(part.field, part.name)
		if err != nil {
			t.Fatalf("create form file %s: %v", part.field, err)
		}
		if _, err := fw.Write(part.content); err != nil {
			t.Fatalf("write form file %s: %v", part.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func workflowParts() []filePart {
	return []filePart{
		{field: "bl", name: "bl.xlsx", content: []byte("bill of lading sheet")},
		{field: "invoice", name: "invoice.xlsx", content: []byte("commercial invoice sheet")},
		{field: "packing", name: "packing.xlsx", content: []byte("packing list sheet")},
	}
}

func postMultipart(t *testing.T, srv *Server, target string, fields map[string]string, parts []filePart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, parts)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var resp struct {
		OK        bool   `json:"ok"`
		Timestamp string `json:"timestamp"`
		AIEnabled bool   `json:"ai_enabled"`
		Extractor string `json:"extractor"`
		Version   string `json:"version"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true")
	}
	if resp.Version != "2.0.0" {
		t.Fatalf("unexpected version: %q", resp.Version)
	}
	if resp.Extractor != "fake" || !resp.AIEnabled {
		t.Fatalf("unexpected extractor info: %q enabled=%v", resp.Extractor, resp.AIEnabled)
	}
	if resp.Timestamp == "" {
		t.Fatalf("expected timestamp")
	}

	liveReq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	liveRR := httptest.NewRecorder()
	srv.ServeHTTP(liveRR, liveReq)
	if liveRR.Code != http.StatusOK || liveRR.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", liveRR.Code, liveRR.Body.String())
	}
}

func TestHandleUploadStoresFile(t *testing.T) {
	srv, _, uploadDir := newTestServer(t)
	content := []byte("invoice sheet bytes")
	rr := postMultipart(t, srv, "/api/upload",
		map[string]string{"doc_type": "invoice"},
		[]filePart{{field: "file", name: "Commercial Invoice.xlsx", content: content}},
	)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success      bool   `json:"success"`
		Filename     string `json:"filename"`
		OriginalName string `json:"original_name"`
		DocType      string `json:"doc_type"`
		Size         int64  `json:"size"`
		Path         string `json:"path"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success")
	}
	if resp.DocType != "invoice" {
		t.Fatalf("unexpected doc_type: %q", resp.DocType)
	}
	if resp.OriginalName != "Commercial_Invoice.xlsx" {
		t.Fatalf("expected sanitized name, got %q", resp.OriginalName)
	}
	if !strings.Contains(resp.Filename, "_invoice_") || !strings.HasSuffix(resp.Filename, "Commercial_Invoice.xlsx") {
		t.Fatalf("unexpected stored name: %q", resp.Filename)
	}
	if resp.Size != int64(len(content)) {
		t.Fatalf("unexpected size: %d", resp.Size)
	}
	if filepath.Dir(resp.Path) != uploadDir {
		t.Fatalf("expected file under upload dir, got %q", resp.Path)
	}
	data, err := os.ReadFile(resp.Path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("stored file contents mismatch")
	}
}

func TestHandleUploadValidation(t *testing.T) {
	srv, _, uploadDir := newTestServer(t)

	t.Run("missing file part", func(t *testing.T) {
		rr := postMultipart(t, srv, "/api/upload", map[string]string{"doc_type": "bl"}, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if decodeMap(t, rr)["error"] == "" {
			t.Fatalf("expected error message")
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		rr := postMultipart(t, srv, "/api/upload", nil,
			[]filePart{{field: "file", name: "notes.txt", content: []byte("plain text")}})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		msg, _ := decodeMap(t, rr)["error"].(string)
		if !strings.Contains(msg, "not allowed") {
			t.Fatalf("unexpected error: %q", msg)
		}
	})

	t.Run("corrupt pdf removed", func(t *testing.T) {
		rr := postMultipart(t, srv, "/api/upload", map[string]string{"doc_type": "bl"},
			[]filePart{{field: "file", name: "doc.pdf", content: []byte("not really a pdf")}})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		msg, _ := decodeMap(t, rr)["error"].(string)
		if !strings.Contains(msg, "invalid pdf") {
			t.Fatalf("unexpected error: %q", msg)
		}
		entries, err := os.ReadDir(uploadDir)
		if err != nil {
			t.Fatalf("read upload dir: %v", err)
		}
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), ".pdf") {
				t.Fatalf("rejected pdf left behind: %s", entry.Name())
			}
		}
	})
}

func TestHandleUploadRejectsOversizedBody(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.OpenSQLite(filepath.Join(dir, "cache.db"), cache.Config{Enabled: true, TTLDays: 90})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reports, err := report.NewStore(filepath.Join(dir, "outputs"))
	if err != nil {
		t.Fatalf("report store: %v", err)
	}
	extractor := &fakeExtractor{}
	srv, err := NewServer(pipeline.New(store, extractor, reports), reports, extractor, &Config{
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxUploadBytes: 1 << 10,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	rr := postMultipart(t, srv, "/api/upload", nil,
		[]filePart{{field: "file", name: "big.xlsx", content: bytes.Repeat([]byte("x"), 8<<10)}})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
	msg, _ := decodeMap(t, rr)["error"].(string)
	if !strings.Contains(msg, "too large") {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestHandleExtractValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(`{"doc_type":"bl"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without filepath, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/extract",
		strings.NewReader(`{"filepath":"/nonexistent/doc.pdf","doc_type":"bl"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rr.Code)
	}
}

func TestHandleExtractUsesCache(t *testing.T) {
	srv, extractor, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "bl.xlsx")
	if err := os.WriteFile(path, []byte("bl sheet"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	post := func(force bool) *httptest.ResponseRecorder {
		payload, err := json.Marshal(map[string]interface{}{"filepath": path, "doc_type": "bl", "force": force})
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/extract", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr
	}

	rr := post(false)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success bool             `json:"success"`
		DocType string           `json:"doc_type"`
		Data    *document.Record `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.DocType != "bl" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Data == nil || resp.Data.ShipperName == nil || *resp.Data.ShipperName != "ACME EXPORT LLC" {
		t.Fatalf("unexpected record: %+v", resp.Data)
	}

	if rr := post(false); rr.Code != http.StatusOK {
		t.Fatalf("second extract failed: %d", rr.Code)
	}
	if got := extractor.callCount(document.RoleBL); got != 1 {
		t.Fatalf("expected cached second extract, calls=%d", got)
	}

	if rr := post(true); rr.Code != http.StatusOK {
		t.Fatalf("forced extract failed: %d", rr.Code)
	}
	if got := extractor.callCount(document.RoleBL); got != 2 {
		t.Fatalf("expected forced re-extract, calls=%d", got)
	}
}

func TestHandleProcessCompleteLifecycle(t *testing.T) {
	srv, extractor, _ := newTestServer(t)

	first := postMultipart(t, srv, "/api/process-complete", nil, workflowParts())
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", first.Code, first.Body.String())
	}
	fresh := decodeMap(t, first)
	if fresh["success"] != true || fresh["cached"] != false {
		t.Fatalf("unexpected fresh payload: %v", fresh)
	}
	if forced, ok := fresh["forced"].(bool); !ok || forced {
		t.Fatalf("expected forced=false on fresh run, got %v", fresh["forced"])
	}
	reportFile, _ := fresh["report_file"].(string)
	if reportFile == "" {
		t.Fatalf("expected report_file on fresh run")
	}
	hash, _ := fresh["workflow_hash"].(string)
	if len(hash) != 64 {
		t.Fatalf("unexpected workflow hash: %q", hash)
	}
	files, _ := fresh["files"].(map[string]interface{})
	if len(files) != 3 {
		t.Fatalf("expected 3 stored files, got %v", fresh["files"])
	}
	reportPayload, _ := fresh["report"].(map[string]interface{})
	if reportPayload == nil || reportPayload["summary"] == nil {
		t.Fatalf("expected report with summary, got %v", fresh["report"])
	}

	second := postMultipart(t, srv, "/api/process-complete", nil, workflowParts())
	if second.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", second.Code)
	}
	replay := decodeMap(t, second)
	if replay["cached"] != true {
		t.Fatalf("expected cache hit, got %v", replay["cached"])
	}
	if _, ok := replay["forced"]; ok {
		t.Fatalf("forced must be absent on cached replay")
	}
	if _, ok := replay["report_file"]; ok {
		t.Fatalf("report_file must be absent on cached replay")
	}
	if replay["workflow_hash"] != hash {
		t.Fatalf("workflow hash changed between runs")
	}
	if got := extractor.callCount(document.RoleBL); got != 1 {
		t.Fatalf("cache hit must not re-extract, calls=%d", got)
	}

	forcedRun := postMultipart(t, srv, "/api/process-complete?force=1", nil, workflowParts())
	if forcedRun.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", forcedRun.Code)
	}
	forced := decodeMap(t, forcedRun)
	if forced["cached"] != false || forced["forced"] != true {
		t.Fatalf("unexpected forced payload: cached=%v forced=%v", forced["cached"], forced["forced"])
	}
	if got := extractor.callCount(document.RoleBL); got != 2 {
		t.Fatalf("force must re-extract, calls=%d", got)
	}
}

func TestHandleProcessCompleteRequiresMandatoryDocuments(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := postMultipart(t, srv, "/api/process-complete", nil,
		[]filePart{{field: "bl", name: "bl.xlsx", content: []byte("bl only")}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	msg, _ := decodeMap(t, rr)["error"].(string)
	if !strings.Contains(msg, "BL and Invoice") {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestHandleReverifyRecomputes(t *testing.T) {
	srv, extractor, _ := newTestServer(t)

	if rr := postMultipart(t, srv, "/api/process-complete", nil, workflowParts()); rr.Code != http.StatusOK {
		t.Fatalf("seed workflow failed: %d", rr.Code)
	}
	if got := extractor.callCount(document.RoleBL); got != 1 {
		t.Fatalf("unexpected seed extract count: %d", got)
	}

	rr := postMultipart(t, srv, "/api/reverify", nil, workflowParts())
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success, got %v", payload)
	}
	if payload["report"] == nil {
		t.Fatalf("expected report in response")
	}
	if _, ok := payload["cached"]; ok {
		t.Fatalf("reverify response must not carry cached flag")
	}
	if _, ok := payload["workflow_hash"]; ok {
		t.Fatalf("reverify response must not carry workflow hash")
	}
	if got := extractor.callCount(document.RoleBL); got != 2 {
		t.Fatalf("reverify must re-extract, calls=%d", got)
	}
}

func TestReportEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if rr := postMultipart(t, srv, "/api/process-complete", nil, workflowParts()); rr.Code != http.StatusOK {
		t.Fatalf("seed workflow failed: %d", rr.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	listRR := httptest.NewRecorder()
	srv.ServeHTTP(listRR, listReq)
	if listRR.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", listRR.Code)
	}
	var listed struct {
		Success bool          `json:"success"`
		Reports []report.Meta `json:"reports"`
		Count   int           `json:"count"`
	}
	if err := json.NewDecoder(listRR.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if !listed.Success || listed.Count != 1 || len(listed.Reports) != 1 {
		t.Fatalf("unexpected listing: %+v", listed)
	}
	name := listed.Reports[0].Filename
	if !strings.HasSuffix(name, ".json") {
		t.Fatalf("unexpected report name: %q", name)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/reports/"+name, nil)
	getRR := httptest.NewRecorder()
	srv.ServeHTTP(getRR, getReq)
	if getRR.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", getRR.Code)
	}
	if !strings.Contains(getRR.Header().Get("Content-Disposition"), name) {
		t.Fatalf("expected attachment disposition, got %q", getRR.Header().Get("Content-Disposition"))
	}
	var wf report.Workflow
	if err := json.NewDecoder(getRR.Body).Decode(&wf); err != nil {
		t.Fatalf("decode report body: %v", err)
	}
	if wf.Summary.TotalChecks == 0 {
		t.Fatalf("expected populated report summary")
	}

	missingReq := httptest.NewRequest(http.MethodGet, "/api/reports/report_unknown.json", nil)
	missingRR := httptest.NewRecorder()
	srv.ServeHTTP(missingRR, missingReq)
	if missingRR.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", missingRR.Code)
	}

	badReq := httptest.NewRequest(http.MethodGet, "/api/reports/notes.txt", nil)
	badRR := httptest.NewRecorder()
	srv.ServeHTTP(badRR, badReq)
	if badRR.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-report name, got %d", badRR.Code)
	}
}

func TestHandleLogsAndStats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	logsReq := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	logsRR := httptest.NewRecorder()
	srv.ServeHTTP(logsRR, logsReq)
	if logsRR.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", logsRR.Code)
	}
	var logs struct {
		Entries []map[string]interface{} `json:"entries"`
	}
	if err := json.NewDecoder(logsRR.Body).Decode(&logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs.Entries) == 0 {
		t.Fatalf("expected captured log entries from server construction")
	}

	if rr := postMultipart(t, srv, "/api/process-complete", nil, workflowParts()); rr.Code != http.StatusOK {
		t.Fatalf("seed workflow failed: %d", rr.Code)
	}
	statsReq := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	statsRR := httptest.NewRecorder()
	srv.ServeHTTP(statsRR, statsReq)
	if statsRR.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", statsRR.Code)
	}
	var stats telemetry.Stats
	if err := json.NewDecoder(statsRR.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Extractions < 3 {
		t.Fatalf("expected extraction counters to advance, got %d", stats.Extractions)
	}
	if stats.Uploads["bl"] == 0 {
		t.Fatalf("expected upload counter for bl, got %v", stats.Uploads)
	}
}
