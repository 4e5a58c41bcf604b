// Package batch runs one fetch func over an ordered list of work items using a bounded number of
// concurrent slots and collects exactly one Outcome per item.
//
// The pool lives for a single FetchAll call. Items are admitted in input order as slots free up, each item
// gets exactly one attempt, and a failing or panicking item never affects its siblings. Callers that need a
// deadline must build it into their fetch func; a fetch without a timeout can hold its slot indefinitely.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidConcurrency is returned when MaxConcurrency is below 1.
	ErrInvalidConcurrency = errors.New("max concurrency must be >= 1")
	// ErrNilFunc is returned when no fetch func is supplied.
	ErrNilFunc = errors.New("fetch func is required")
)

// Func fetches a single item and returns its textual content.
type Func[T any] func(ctx context.Context, item T) (string, error)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Observer receives per-item and per-batch timing. Implementations must be safe for concurrent use.
type Observer interface {
	ItemStarted()
	ItemFinished(kind string, elapsed time.Duration)
	BatchFinished(items int, elapsed time.Duration)
}

// Options configures a FetchAll call.
type Options struct {
	MaxConcurrency int
	// PreserveOrder returns outcomes in input order. When false outcomes are listed in completion order,
	// which differs from run to run.
	PreserveOrder bool
	Clock         Clock
	Logger        *zap.Logger
	Observer      Observer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type nopObserver struct{}

func (nopObserver) ItemStarted()                       {}
func (nopObserver) ItemFinished(string, time.Duration) {}
func (nopObserver) BatchFinished(int, time.Duration)   {}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = wallClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// FetchAll calls fn once for every item with at most opts.MaxConcurrency calls in flight.
//
// The returned Result always holds len(items) outcomes. Only precondition violations produce an error, and
// they are reported before any goroutine starts. ctx is passed to fn unchanged; FetchAll adds no deadline of
// its own.
func FetchAll[T any](ctx context.Context, items []T, fn Func[T], opts Options) (Result[T], error) {
	if opts.MaxConcurrency < 1 {
		return Result[T]{}, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, opts.MaxConcurrency)
	}
	if fn == nil {
		return Result[T]{}, ErrNilFunc
	}
	opts = opts.withDefaults()

	result := Result[T]{Ordered: opts.PreserveOrder}
	if len(items) == 0 {
		result.Outcomes = []Outcome[T]{}
		return result, nil
	}

	slots := min(opts.MaxConcurrency, len(items))
	opts.Logger.Debug("batch started", zap.Int("items", len(items)), zap.Int("slots", slots))

	start := opts.Clock.Now()
	out := newCollector[T](len(items), opts.PreserveOrder)

	var g errgroup.Group
	g.SetLimit(slots)
	for i, item := range items {
		// Go blocks until a slot is free, so admission follows input order.
		g.Go(func() error {
			out.add(runItem(ctx, i, item, fn, opts))
			return nil
		})
	}
	_ = g.Wait()

	result.Outcomes = out.freeze()
	result.Elapsed = opts.Clock.Now().Sub(start)
	opts.Observer.BatchFinished(len(items), result.Elapsed)

	failed := len(result.Failures())
	opts.Logger.Info("batch finished",
		zap.Int("items", len(items)),
		zap.Int("succeeded", len(items)-failed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func runItem[T any](ctx context.Context, index int, item T, fn Func[T], opts Options) (outcome Outcome[T]) {
	outcome = Outcome[T]{Index: index, Item: item}
	opts.Observer.ItemStarted()
	opts.Logger.Debug("fetch started", zap.Int("index", index))
	start := opts.Clock.Now()

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Content = ""
			outcome.Failure = Classify(panicError{value: rec})
		}
		outcome.Elapsed = opts.Clock.Now().Sub(start)

		kind := "success"
		if outcome.Failure != nil {
			kind = string(outcome.Failure.Kind)
			opts.Logger.Warn("fetch failed",
				zap.Int("index", index),
				zap.String("kind", kind),
				zap.Duration("elapsed", outcome.Elapsed),
				zap.Error(outcome.Failure),
			)
		} else {
			opts.Logger.Info("fetch completed",
				zap.Int("index", index),
				zap.Int("bytes", len(outcome.Content)),
				zap.Duration("elapsed", outcome.Elapsed),
			)
		}
		opts.Observer.ItemFinished(kind, outcome.Elapsed)
	}()

	content, err := fn(ctx, item)
	if err != nil {
		outcome.Failure = Classify(err)
		return outcome
	}
	outcome.Content = content
	return outcome
}

// collector is the only state shared between workers.
type collector[T any] struct {
	mu       sync.Mutex
	ordered  bool
	outcomes []Outcome[T]
}

func newCollector[T any](n int, ordered bool) *collector[T] {
	c := &collector[T]{ordered: ordered}
	if ordered {
		c.outcomes = make([]Outcome[T], n)
	} else {
		c.outcomes = make([]Outcome[T], 0, n)
	}
	return c
}

func (c *collector[T]) add(o Outcome[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ordered {
		c.outcomes[o.Index] = o
		return
	}
	c.outcomes = append(c.outcomes, o)
}

func (c *collector[T]) freeze() []Outcome[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome[T], len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
