package batch

import (
	"time"
)

// Outcome is the result of processing one work item.
type Outcome[T any] struct {
	// Index is the item's position in the submitted slice.
	Index   int
	Item    T
	Content string
	// Failure is nil when the item succeeded.
	Failure *Failure
	Elapsed time.Duration
}

// Succeeded reports whether the item produced content.
func (o Outcome[T]) Succeeded() bool {
	return o.Failure == nil
}

// Result holds every outcome of one FetchAll call. It is read-only once returned.
type Result[T any] struct {
	Outcomes []Outcome[T]
	// Ordered is true when Outcomes follow input order, false when they follow completion order.
	Ordered bool
	Elapsed time.Duration
}

// Len returns the number of outcomes.
func (r Result[T]) Len() int {
	return len(r.Outcomes)
}

// At returns the outcome for the item originally submitted at index i.
func (r Result[T]) At(i int) (Outcome[T], bool) {
	if r.Ordered {
		if i < 0 || i >= len(r.Outcomes) {
			return Outcome[T]{}, false
		}
		return r.Outcomes[i], true
	}
	for _, o := range r.Outcomes {
		if o.Index == i {
			return o, true
		}
	}
	return Outcome[T]{}, false
}

// Successes returns the successful outcomes in result order.
func (r Result[T]) Successes() []Outcome[T] {
	out := make([]Outcome[T], 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns the failed outcomes in result order.
func (r Result[T]) Failures() []Outcome[T] {
	var out []Outcome[T]
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}
