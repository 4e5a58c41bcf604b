package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/config"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
)

func baseConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0, ShutdownTimeoutSeconds: 1},
		Fetch: config.FetchConfig{
			Concurrency:    2,
			PreserveOrder:  true,
			Mode:           "direct",
			TimeoutSeconds: 2,
			UserAgent:      "test-agent",
			MaxTextLength:  100,
			MaxURLs:        5,
		},
		Headless: config.HeadlessConfig{MinTextLength: 200},
		Storage:  config.StorageConfig{Backend: "memory", Prefix: "pages"},
		Search:   config.SearchConfig{Results: 3},
	}
}

func TestBuildDefaultsToDirectAndMemory(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = app.Fetcher(fetcher.ModeDirect)
	require.NoError(t, err)
	_, err = app.Fetcher(fetcher.ModeZenRows)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = app.Fetcher(fetcher.ModeAuto)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = app.Searcher()
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = app.Research()
	require.ErrorIs(t, err, ErrNotConfigured)
	require.NotNil(t, app.Recorder())
	require.Equal(t, "direct", app.Config().Fetch.Mode)
}

func TestBuildWithZenRowsRegistersAuto(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.ZenRows = config.ZenRowsConfig{APIKey: "key", JSRender: true, PremiumProxy: true}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = app.Fetcher(fetcher.ModeZenRows)
	require.NoError(t, err)
	_, err = app.Fetcher(fetcher.ModeAuto)
	require.NoError(t, err)

	opts := app.FetchOptions(fetcher.ModeZenRows, true)
	require.True(t, opts.Render)
	require.True(t, opts.PremiumProxy)
	require.True(t, opts.Extract)
	require.Equal(t, 2*time.Second, opts.Timeout)
	require.False(t, app.FetchOptions(fetcher.ModeDirect, false).Render)
}

func TestBuildWithSearchAndModelEnablesResearch(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Search.APIKey = "g-key"
	cfg.Search.EngineID = "cx"
	cfg.Search.Endpoint = "http://127.0.0.1:1/"
	cfg.OpenAI = config.OpenAIConfig{APIKey: "o-key", BaseURL: "http://127.0.0.1:1/v1", Model: "gpt-4o"}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = app.Searcher()
	require.NoError(t, err)
	_, err = app.Research()
	require.NoError(t, err)
}

func TestBuildLocalStorageArchivesFetchedPages(t *testing.T) {
	t.Parallel()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>archived</p></body></html>"))
	}))
	defer page.Close()

	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Backend: "local", LocalDir: dir, Prefix: "pages"}
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/fetch",
		strings.NewReader(`{"urls":["`+page.URL+`"],"extract":true}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"archived"`)

	var files []string
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Equal(t, "archived", string(data))
}

func TestBuildFailsForUnusableLocalDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Backend: "local", LocalDir: file}
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestForceRenderSetsRender(t *testing.T) {
	t.Parallel()

	next := &captureFetcher{}
	_, err := forceRender{next: next}.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.True(t, next.last.Render)
}

type captureFetcher struct {
	last crawler.FetchRequest
}

func (c *captureFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	c.last = req
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK}, nil
}
