package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/archive"
	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/config"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
	"github.com/JakeFAU/parallel-fetcher/internal/hash/sha256"
	"github.com/JakeFAU/parallel-fetcher/internal/llm"
	"github.com/JakeFAU/parallel-fetcher/internal/research"
	"github.com/JakeFAU/parallel-fetcher/internal/storage/memory"
)

func TestServer_FetchBatch_ReturnsEveryOutcomeAndArchives(t *testing.T) {
	t.Parallel()

	batches := memory.NewBatchStore()
	server := newTestServerWith(t, batches, nil, testConfig())

	body := `{"urls":["https://ok.test/a","https://missing.test"," ok.test/b "],"max_concurrency":2}`
	rec := doRequest(server, http.MethodPost, "/v1/fetch", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "batch-1", resp.BatchID)
	require.True(t, resp.Ordered)
	require.Equal(t, crawler.BatchStatusPartial, resp.Status)
	require.Equal(t, 2, resp.Succeeded)
	require.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Items, 3)

	require.Equal(t, "page https://ok.test/a", resp.Items[0].Content)
	require.True(t, resp.Items[0].OK)
	require.False(t, resp.Items[1].OK)
	require.Equal(t, "upstream_status", resp.Items[1].Kind)
	require.Equal(t, http.StatusNotFound, resp.Items[1].StatusCode)
	require.Empty(t, resp.Items[1].Content)
	require.Equal(t, "https://ok.test/b", resp.Items[2].URL)
	require.Empty(t, resp.ArchiveError)

	stored := doRequest(server, http.MethodGet, "/v1/batches/batch-1", "")
	require.Equal(t, http.StatusOK, stored.Code)
	var record crawler.BatchRecord
	require.NoError(t, json.Unmarshal(stored.Body.Bytes(), &record))
	require.Equal(t, crawler.BatchStatusPartial, record.Status)
	require.Len(t, record.Items, 3)
	require.NotEmpty(t, record.Items[0].BlobURI)
	require.Empty(t, record.Items[1].BlobURI)
}

func TestServer_FetchBatch_CompletionOrderKeepsIndexes(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	rec := doRequest(server, http.MethodPost, "/v1/fetch",
		`{"urls":["https://ok.test/1","https://ok.test/2"],"preserve_order":false,"extract":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Ordered)
	seen := map[int]string{}
	for _, item := range resp.Items {
		seen[item.Index] = item.Content
	}
	require.Equal(t, map[int]string{0: "page https://ok.test/1", 1: "page https://ok.test/2"}, seen)
}

func TestServer_FetchBatch_RejectsBadInput(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	testCases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"no urls", `{"urls":[]}`, "urls required"},
		{"too many urls", `{"urls":["a.test","b.test","c.test","d.test"]}`, "at most 3 urls"},
		{"empty url", `{"urls":["a.test","  "]}`, "url is empty"},
		{"blocked host", `{"urls":["https://x.blocked.test"]}`, "blocked"},
		{"zero concurrency", `{"urls":["a.test"],"max_concurrency":0}`, "max_concurrency must be >= 1"},
		{"unknown mode", `{"urls":["a.test"],"mode":"carrier-pigeon"}`, "unknown fetch mode"},
		{"mode not enabled", `{"urls":["a.test"],"mode":"headless"}`, "not enabled"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doRequest(server, http.MethodPost, "/v1/fetch", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Contains(t, body["error"], tc.want)
		})
	}
}

func TestServer_FetchBatch_ReportsArchiveFailure(t *testing.T) {
	t.Parallel()

	server := newTestServerWith(t, memory.NewBatchStore(), nil, testConfig())
	server.deps.Recorder = failingRecorder{}

	rec := doRequest(server, http.MethodPost, "/v1/fetch", `{"urls":["https://ok.test"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp fetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "disk full", resp.ArchiveError)
	require.True(t, resp.Items[0].OK)
}

func TestServer_GetBatch_NotFound(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(t), http.MethodGet, "/v1/batches/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "batch not found")
}

func TestServer_Ask_RequiresQuestion(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServerWith(t, memory.NewBatchStore(), &fakeAsker{}, testConfig()), http.MethodPost, "/v1/ask", `{"question":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Question is required"}`, rec.Body.String())
}

func TestServer_Ask_NotConfigured(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(t), http.MethodPost, "/v1/ask", `{"question":"why?"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Ask_StreamsEvents(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{deltas: []string{"Hel", "lo"}}
	server := newTestServerWith(t, memory.NewBatchStore(), asker, testConfig())

	rec := doRequest(server, http.MethodPost, "/v1/ask", `{"question":" what is new? "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	require.Equal(t, "what is new?", asker.question)
	require.Equal(t,
		"data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: {\"done\":true}\n\n",
		rec.Body.String())
}

func TestServer_Ask_PassesModelOverrides(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{deltas: []string{"ok"}}
	server := newTestServerWith(t, memory.NewBatchStore(), asker, testConfig())

	rec := doRequest(server, http.MethodPost, "/v1/ask", `{"question":"q","model":"o4-mini","effort":"High"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, llm.Overrides{Model: "o4-mini", ReasoningEffort: "high"}, asker.overrides)
}

func TestServer_Ask_RejectsUnknownEffort(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{}
	server := newTestServerWith(t, memory.NewBatchStore(), asker, testConfig())

	rec := doRequest(server, http.MethodPost, "/v1/ask", `{"question":"q","effort":"extreme"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["error"], "reasoning effort must be one of")
	require.Empty(t, asker.question)
}

func TestServer_Ask_StreamsError(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{deltas: []string{"partial"}, err: errors.New("model unavailable")}
	server := newTestServerWith(t, memory.NewBatchStore(), asker, testConfig())

	rec := doRequest(server, http.MethodPost, "/v1/ask", `{"question":"q"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		"data: {\"content\":\"partial\"}\n\ndata: {\"error\":\"model unavailable\"}\n\n",
		rec.Body.String())
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	require.Equal(t, http.StatusOK, doRequest(server, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, doRequest(server, http.MethodGet, "/readyz", "").Code)

	notReady := NewServer(Deps{}, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusServiceUnavailable, doRequest(notReady, http.MethodGet, "/readyz", "").Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	doRequest(server, http.MethodGet, "/healthz", "")
	rec := doRequest(server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := newTestServerWith(t, memory.NewBatchStore(), nil, cfg)

	require.Equal(t, http.StatusForbidden, doRequest(server, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, doRequest(server, http.MethodGet, "/healthz?api_key=secret", "").Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(t), http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Fetch: config.FetchConfig{
			Concurrency:    2,
			PreserveOrder:  true,
			Mode:           "direct",
			TimeoutSeconds: 5,
			MaxURLs:        3,
			MaxTextLength:  100,
			BlockedDomains: []string{"*.blocked.test"},
		},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, memory.NewBatchStore(), nil, testConfig())
}

func newTestServerWith(t *testing.T, batches crawler.BatchStore, asker Asker, cfg config.Config) *Server {
	t.Helper()
	recorder, err := archive.New(memory.NewBlobStore(), batches, nil, sha256.New(), archive.Config{Prefix: "pages"}, zap.NewNop())
	require.NoError(t, err)
	deps := Deps{
		Fetchers: map[fetcher.Mode]crawler.Fetcher{fetcher.ModeDirect: pageFetcher{}},
		Recorder: recorder,
		Batches:  batches,
		Asker:    asker,
		IDs:      &fakeIDGen{ids: []string{"batch-1"}},
		Clock:    &fakeClock{now: time.Unix(100, 0)},
	}
	return NewServer(deps, cfg, zap.NewNop())
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// pageFetcher answers 404 for hosts starting with "missing" and echoes the URL otherwise.
type pageFetcher struct{}

func (pageFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if strings.Contains(req.URL, "://missing") {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: req.URL, Code: http.StatusNotFound}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("page " + req.URL)}, nil
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, string, time.Time, batch.Result[string]) (crawler.BatchRecord, error) {
	return crawler.BatchRecord{}, errors.New("disk full")
}

type fakeAsker struct {
	deltas    []string
	err       error
	question  string
	overrides llm.Overrides
}

func (f *fakeAsker) AskStream(ctx context.Context, question string, onDelta func(string) error) (research.Gathered, error) {
	f.question = question
	f.overrides = llm.OverridesFrom(ctx)
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return research.Gathered{}, err
		}
	}
	return research.Gathered{SearchTerm: question}, f.err
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
