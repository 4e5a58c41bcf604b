// Package auto probes pages with a direct fetch and re-renders them headlessly when the probe looks like
// an unrendered client-side app.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

// Fetcher combines a probe fetcher, a detector and a renderer.
type Fetcher struct {
	probe    crawler.Fetcher
	renderer crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// New builds an auto Fetcher. A nil logger is replaced by a no-op logger.
func New(probe, renderer crawler.Fetcher, detector crawler.HeadlessDetector, logger *zap.Logger) (*Fetcher, error) {
	if probe == nil || renderer == nil || detector == nil {
		return nil, errors.New("probe, renderer and detector are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, renderer: renderer, detector: detector, logger: logger}, nil
}

// Fetch returns the probe response unless the request asks for rendering or the detector promotes it.
// A failed render after a successful probe falls back to the probe response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Render {
		return f.render(ctx, request)
	}
	probe, err := f.probe.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("probe: %w", err)
	}
	if !f.detector.ShouldPromote(probe) {
		return probe, nil
	}

	f.logger.Debug("promoting to headless", zap.String("url", request.URL), zap.Int("probe_bytes", len(probe.Body)))
	rendered, err := f.render(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, err
		}
		f.logger.Warn("headless render failed, keeping probe", zap.String("url", request.URL), zap.Error(err))
		return probe, nil
	}
	return rendered, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.renderer.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("render: %w", err)
	}
	return resp, nil
}
