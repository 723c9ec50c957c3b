package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"ocrbatch/internal/mineru"
)

// Final states understood by FakeMinerU.Outcome.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeDoneNoURL = "done-no-url"
)

// FakeMinerU is an in-process stand-in for the MinerU batch API. Uploaded
// files become "running" and then reach their configured outcome after
// PollsUntilDone status queries.
type FakeMinerU struct {
	Server *httptest.Server

	mu sync.Mutex
	t  testing.TB

	// PollsUntilDone is the number of status queries that report "running"
	// before uploaded files reach their outcome. Negative never finishes.
	PollsUntilDone int
	// Outcome maps a file name to its final state; unset names finish "done".
	Outcome map[string]string
	// Bundles overrides the archive served for a file name.
	Bundles map[string][]byte
	// UploadFailures maps a file name to how many uploads fail with 500
	// before one succeeds. Negative always fails.
	UploadFailures map[string]int
	// StatusFailures makes the first N status queries fail with 503.
	StatusFailures int
	// MalformedStatuses makes the N status queries after StatusFailures
	// answer 200 with a non-JSON body, as a misbehaving gateway would.
	MalformedStatuses int
	// MalformedBatch answers upload URL requests with a non-JSON 200 body.
	MalformedBatch bool
	// BatchCode, when non-zero, is returned as an application error for
	// upload URL requests.
	BatchCode int
	// StatusCode, when non-zero, is returned as an application error for
	// status queries.
	StatusCode int
	// ShortURLs drops one upload URL from the batch response.
	ShortURLs bool
	// EmptyResults makes status queries return no items.
	EmptyResults bool

	batches     map[string]*fakeBatch
	requests    []mineru.BatchRequest
	statusCalls int
	downloads   map[string]int
}

type fakeBatch struct {
	id       string
	files    []mineru.FileSpec
	uploaded map[string][]byte
	attempts map[string]int
	polls    int
}

// NewFakeMinerU starts a fake server that is closed when the test ends.
func NewFakeMinerU(t testing.TB) *FakeMinerU {
	t.Helper()
	f := &FakeMinerU{
		t:              t,
		Outcome:        map[string]string{},
		Bundles:        map[string][]byte{},
		UploadFailures: map[string]int{},
		batches:        map[string]*fakeBatch{},
		downloads:      map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/file-urls/batch", f.handleBatch)
	mux.HandleFunc("PUT /upload/{batch}/{index}", f.handleUpload)
	mux.HandleFunc("GET /api/v4/extract-results/batch/{batch}", f.handleStatus)
	mux.HandleFunc("GET /bundles/{batch}/{name}", f.handleBundle)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL returns the API base URL to configure clients with.
func (f *FakeMinerU) BaseURL() string {
	return f.Server.URL + "/api/v4"
}

// Client returns a MinerU client pointed at the fake server.
func (f *FakeMinerU) Client() *mineru.Client {
	f.t.Helper()
	client, err := mineru.New(mineru.Config{BaseURL: f.BaseURL(), Token: "test-token"})
	if err != nil {
		f.t.Fatalf("new mineru client: %v", err)
	}
	return client
}

// Requests returns every batch registration received so far.
func (f *FakeMinerU) Requests() []mineru.BatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mineru.BatchRequest(nil), f.requests...)
}

// StatusCalls returns how many status queries were received.
func (f *FakeMinerU) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

// Uploaded returns the bytes uploaded for name in batchID.
func (f *FakeMinerU) Uploaded(batchID, name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return nil, false
	}
	data, ok := b.uploaded[name]
	return data, ok
}

// Downloads returns how many times the bundle for name was fetched.
func (f *FakeMinerU) Downloads(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[name]
}

func (f *FakeMinerU) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req mineru.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, -10002, "bad request", nil)
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"msgCode":"A0202","msg":"token error"}`)
		return
	}
	if f.MalformedBatch {
		writeGatewayPage(w)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.BatchCode != 0 {
		writeEnvelope(w, f.BatchCode, "batch rejected", nil)
		return
	}

	id := fmt.Sprintf("batch-%d", len(f.batches)+1)
	b := &fakeBatch{id: id, files: req.Files, uploaded: map[string][]byte{}, attempts: map[string]int{}}
	f.batches[id] = b

	urls := make([]string, 0, len(req.Files))
	for i := range req.Files {
		urls = append(urls, fmt.Sprintf("%s/upload/%s/%d", f.Server.URL, id, i))
	}
	if f.ShortURLs && len(urls) > 0 {
		urls = urls[:len(urls)-1]
	}
	writeEnvelope(w, 0, "ok", map[string]any{"batch_id": id, "file_urls": urls})
}

func (f *FakeMinerU) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[r.PathValue("batch")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= len(b.files) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := b.files[idx].Name
	b.attempts[name]++
	if failures, ok := f.UploadFailures[name]; ok && (failures < 0 || b.attempts[name] <= failures) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	b.uploaded[name] = body
	w.WriteHeader(http.StatusOK)
}

func (f *FakeMinerU) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusCalls <= f.StatusFailures {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if f.statusCalls <= f.StatusFailures+f.MalformedStatuses {
		writeGatewayPage(w)
		return
	}
	if f.StatusCode != 0 {
		writeEnvelope(w, f.StatusCode, "status rejected", nil)
		return
	}
	b, ok := f.batches[r.PathValue("batch")]
	if !ok {
		writeEnvelope(w, -60012, "batch not found", nil)
		return
	}
	b.polls++
	results := make([]mineru.ExtractResult, 0, len(b.files))
	if !f.EmptyResults {
		for _, spec := range b.files {
			results = append(results, f.resultFor(b, spec))
		}
	}
	writeEnvelope(w, 0, "ok", mineru.BatchResults{BatchID: b.id, Results: results})
}

func (f *FakeMinerU) resultFor(b *fakeBatch, spec mineru.FileSpec) mineru.ExtractResult {
	res := mineru.ExtractResult{FileName: spec.Name, DataID: spec.DataID}
	if _, ok := b.uploaded[spec.Name]; !ok {
		res.State = "waiting-file"
		return res
	}
	if f.PollsUntilDone < 0 || b.polls <= f.PollsUntilDone {
		res.State = "running"
		res.Progress = &mineru.ExtractProgress{ExtractedPages: b.polls, TotalPages: b.polls + 1}
		return res
	}
	switch f.Outcome[spec.Name] {
	case OutcomeFailed:
		res.State = "failed"
		res.ErrMsg = "file conversion failed"
	case OutcomeDoneNoURL:
		res.State = "done"
	default:
		res.State = "done"
		res.FullZipURL = fmt.Sprintf("%s/bundles/%s/%s", f.Server.URL, b.id, url.PathEscape(spec.Name+".zip"))
	}
	return res
}

func (f *FakeMinerU) handleBundle(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("name"), ".zip")

	f.mu.Lock()
	f.downloads[name]++
	data, ok := f.Bundles[name]
	f.mu.Unlock()

	if !ok {
		stem := strings.TrimSuffix(name, ".pdf")
		data = BuildBundle(f.t, map[string]string{
			"full.md":                   "# " + stem + "\n\nExtracted text.\n",
			"layout.json":               "{}",
			"images/page-1.jpg":         "jpeg",
			stem + "_content_list.json": "[]",
		})
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func writeGatewayPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = io.WriteString(w, "<html>gateway hiccup</html>")
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":     code,
		"msg":      msg,
		"trace_id": "trace-test",
		"data":     data,
	})
}
