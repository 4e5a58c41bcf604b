// Package research answers a question by searching the web, fetching the hits in parallel and handing
// the pages that were fetched successfully to the language model.
package research

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
	"github.com/JakeFAU/parallel-fetcher/internal/llm"
)

// ErrNoResults is returned when the search yields nothing to read.
var ErrNoResults = errors.New("search returned no results")

// Model is the part of the LLM client the pipeline uses.
type Model interface {
	SearchTerm(ctx context.Context, question string) string
	Answer(ctx context.Context, question string, sources []llm.Source) (string, error)
	StreamAnswer(ctx context.Context, question string, sources []llm.Source, onDelta func(string) error) error
}

// Config tunes the pipeline.
type Config struct {
	Results        int
	MaxConcurrency int
}

// Pipeline wires the collaborators together.
type Pipeline struct {
	searcher crawler.Searcher
	fetch    batch.Func[crawler.SearchResult]
	model    Model
	cfg      Config
	observer batch.Observer
	logger   *zap.Logger
}

// New builds a Pipeline. fetch is typically fetcher.SearchResultText with extraction enabled.
func New(searcher crawler.Searcher, fetch batch.Func[crawler.SearchResult], model Model, cfg Config,
	observer batch.Observer, logger *zap.Logger,
) *Pipeline {
	if cfg.Results <= 0 {
		cfg.Results = 5
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{searcher: searcher, fetch: fetch, model: model, cfg: cfg, observer: observer, logger: logger}
}

// Gathered is what the retrieval half of the pipeline produced.
type Gathered struct {
	SearchTerm string
	Batch      batch.Result[crawler.SearchResult]
	Sources    []llm.Source
}

// Gather turns a question into sources: search term, search, then one bounded parallel fetch.
func (p *Pipeline) Gather(ctx context.Context, question string) (Gathered, error) {
	term := p.model.SearchTerm(ctx, question)
	p.logger.Info("searching", zap.String("question", question), zap.String("term", term))

	hits, err := p.searcher.Search(ctx, term, p.cfg.Results)
	if err != nil {
		return Gathered{SearchTerm: term}, fmt.Errorf("search %q: %w", term, err)
	}
	if len(hits) == 0 {
		return Gathered{SearchTerm: term}, ErrNoResults
	}

	res, err := batch.FetchAll(ctx, hits, p.fetch, batch.Options{
		MaxConcurrency: p.cfg.MaxConcurrency,
		PreserveOrder:  true,
		Logger:         p.logger,
		Observer:       p.observer,
	})
	if err != nil {
		return Gathered{SearchTerm: term}, fmt.Errorf("fetch search results: %w", err)
	}
	return Gathered{SearchTerm: term, Batch: res, Sources: Sources(res)}, nil
}

// Ask runs the whole pipeline and returns the model's answer.
func (p *Pipeline) Ask(ctx context.Context, question string) (string, Gathered, error) {
	g, err := p.Gather(ctx, question)
	if err != nil {
		return "", g, err
	}
	answer, err := p.model.Answer(ctx, question, g.Sources)
	if err != nil {
		return "", g, fmt.Errorf("answer: %w", err)
	}
	return answer, g, nil
}

// AskStream runs the pipeline and relays the answer token by token.
func (p *Pipeline) AskStream(ctx context.Context, question string, onDelta func(string) error) (Gathered, error) {
	g, err := p.Gather(ctx, question)
	if err != nil {
		return g, err
	}
	return g, p.Stream(ctx, question, g, onDelta)
}

// Stream relays the model's answer over sources that were already gathered.
func (p *Pipeline) Stream(ctx context.Context, question string, g Gathered, onDelta func(string) error) error {
	if err := p.model.StreamAnswer(ctx, question, g.Sources, onDelta); err != nil {
		return fmt.Errorf("stream answer: %w", err)
	}
	return nil
}

// Sources keeps the successful, non-empty outcomes in batch order. Failed items are dropped by their
// outcome tag, whatever their text says.
func Sources(res batch.Result[crawler.SearchResult]) []llm.Source {
	successes := res.Successes()
	sources := make([]llm.Source, 0, len(successes))
	for _, o := range successes {
		if o.Content == "" {
			continue
		}
		sources = append(sources, llm.Source{Title: o.Item.Title, URL: o.Item.Link, Text: o.Content})
	}
	return sources
}
