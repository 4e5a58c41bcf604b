package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/fetcher"
	"github.com/JakeFAU/parallel-fetcher/internal/llm"
)

type fetchRequest struct {
	URLs           []string `json:"urls"`
	MaxConcurrency *int     `json:"max_concurrency"`
	PreserveOrder  *bool    `json:"preserve_order"`
	Mode           string   `json:"mode"`
	Extract        bool     `json:"extract"`
	Render         *bool    `json:"render"`
	PremiumProxy   *bool    `json:"premium_proxy"`
}

type itemResponse struct {
	Index      int    `json:"index"`
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

type fetchResponse struct {
	BatchID      string              `json:"batch_id"`
	Status       crawler.BatchStatus `json:"status"`
	Ordered      bool                `json:"ordered"`
	ElapsedMs    int64               `json:"elapsed_ms"`
	Succeeded    int                 `json:"succeeded"`
	Failed       int                 `json:"failed"`
	Items        []itemResponse      `json:"items"`
	ArchiveError string              `json:"archive_error,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
	Model    string `json:"model"`
	Effort   string `json:"effort"`
}

func (s *Server) fetchBatch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > s.cfg.Fetch.MaxURLs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", s.cfg.Fetch.MaxURLs))
		return
	}
	urls, err := crawler.PrepareURLs(req.URLs, s.blocklist)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	concurrency := valueOrDefault(req.MaxConcurrency, s.cfg.Fetch.Concurrency)
	if concurrency < 1 {
		writeError(w, http.StatusBadRequest, "max_concurrency must be >= 1")
		return
	}
	modeName := req.Mode
	if modeName == "" {
		modeName = s.cfg.Fetch.Mode
	}
	mode, err := fetcher.ParseMode(modeName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, ok := s.deps.Fetchers[mode]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("fetch mode %q is not enabled", mode))
		return
	}
	batchID, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate batch id failed")
		return
	}

	fn := fetcher.Text(f, fetcher.Options{
		Render:        valueOrDefault(req.Render, mode == fetcher.ModeZenRows && s.cfg.ZenRows.JSRender),
		PremiumProxy:  valueOrDefault(req.PremiumProxy, s.cfg.ZenRows.PremiumProxy),
		Extract:       req.Extract,
		MaxTextLength: s.cfg.Fetch.MaxTextLength,
		Timeout:       s.cfg.FetchTimeout(),
	})
	logger := s.logger.With(zap.String("batch_id", batchID), zap.String("request_id", RequestID(r.Context())))
	startedAt := s.deps.Clock.Now()
	res, err := batch.FetchAll(r.Context(), urls, fn, batch.Options{
		MaxConcurrency: concurrency,
		PreserveOrder:  valueOrDefault(req.PreserveOrder, s.cfg.Fetch.PreserveOrder),
		Clock:          s.deps.Clock,
		Logger:         logger,
		Observer:       s.deps.Observer,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := toFetchResponse(batchID, res)
	if s.deps.Recorder != nil {
		if _, err := s.deps.Recorder.Record(r.Context(), batchID, startedAt, res); err != nil {
			logger.Error("archive batch failed", zap.Error(err))
			resp.ArchiveError = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toFetchResponse(id string, res batch.Result[string]) fetchResponse {
	resp := fetchResponse{
		BatchID:   id,
		Ordered:   res.Ordered,
		ElapsedMs: res.Elapsed.Milliseconds(),
		Items:     make([]itemResponse, 0, res.Len()),
	}
	for _, o := range res.Outcomes {
		item := itemResponse{
			Index:     o.Index,
			URL:       o.Item,
			OK:        o.Succeeded(),
			Content:   o.Content,
			ElapsedMs: o.Elapsed.Milliseconds(),
		}
		if o.Failure != nil {
			item.Error = o.Failure.Reason
			item.Kind = string(o.Failure.Kind)
			item.StatusCode = o.Failure.StatusCode
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Items = append(resp.Items, item)
	}
	resp.Status = crawler.StatusFor(resp.Succeeded, resp.Failed)
	return resp
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batches == nil {
		writeError(w, http.StatusServiceUnavailable, "batch store is not configured")
		return
	}
	id := chi.URLParam(r, "batch_id")
	record, err := s.deps.Batches.GetBatch(r.Context(), id)
	if errors.Is(err, crawler.ErrBatchNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Error("load batch failed", zap.String("batch_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ask streams the answer as server-sent events. Once the stream has started, failures are reported
// as an error event rather than a status code.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}
	overrides := llm.Overrides{
		Model:           strings.TrimSpace(req.Model),
		ReasoningEffort: strings.ToLower(strings.TrimSpace(req.Effort)),
	}
	if err := overrides.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Asker == nil {
		writeError(w, http.StatusServiceUnavailable, "question answering is not configured")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	ctx := llm.WithOverrides(r.Context(), overrides)
	gathered, err := s.deps.Asker.AskStream(ctx, question, func(delta string) error {
		return writeEvent(w, rc, map[string]string{"content": delta})
	})
	if err != nil {
		s.logger.Warn("ask failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		if writeErr := writeEvent(w, rc, map[string]string{"error": err.Error()}); writeErr != nil {
			s.logger.Debug("write error event failed", zap.Error(writeErr))
		}
		return
	}
	s.logger.Info("ask answered",
		zap.String("search_term", gathered.SearchTerm),
		zap.Int("sources", len(gathered.Sources)),
		zap.Int("fetched", gathered.Batch.Len()),
	)
	if err := writeEvent(w, rc, map[string]bool{"done": true}); err != nil {
		s.logger.Debug("write done event failed", zap.Error(err))
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
