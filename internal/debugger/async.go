package debugger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"probwp/internal/ir"
)

// JobID tags an in-flight asynchronous query purely for cancellation
// bookkeeping (§5, SPEC_FULL §4.G): it never appears in a cache key or a
// term.
type JobID = ksuid.KSUID

// Handle is a cancellable reference to an asynchronous façade query. Each
// async call returns it together with one result channel, which carries a
// single value only when the query succeeds and is closed when it finishes.
type Handle struct {
	ID JobID

	cancelled atomic.Bool
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Cancel requests the query stop at its next cooperative poll point (§5:
// between WP steps and between execution branches). A cancelled query's
// result is discarded; Wait still returns, and Err then reports an error
// matching context.Canceled under errors.Is.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Wait blocks until the query completes or is cancelled.
func (h *Handle) Wait() {
	<-h.done
}

// Err returns the query's terminal error, if any, valid only after Wait
// returns.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func newHandle() *Handle {
	return &Handle{ID: ksuid.New(), done: make(chan struct{})}
}

// cancellableContext derives a context from ctx that is additionally
// cancelled once h.Cancel is observed; it checks h's cancel flag every
// pollInterval.
func (h *Handle) cancellableContext(ctx context.Context) (context.Context, context.CancelFunc) {
	child, cancel := context.WithCancel(ctx)
	go func() {
		ticker := pollTicker()
		defer ticker.Stop()
		for {
			select {
			case <-child.Done():
				return
			case <-ticker.C:
				if h.cancelled.Load() {
					cancel()
					return
				}
			}
		}
	}()
	return child, cancel
}

// VariableValuesResult is the outcome delivered by VariableValuesAsync.
type VariableValuesResult struct {
	Values map[string][]VariableValue
}

// VariableValuesAsync dispatches VariableValues on a goroutine operating
// over a cloned façade (so its own WP cache is never shared with the
// caller's, §5), returning a Handle plus a channel carrying the single
// result.
func (d *Debugger) VariableValuesAsync(ctx context.Context, handling ApproximationErrorHandling) (*Handle, <-chan VariableValuesResult) {
	h := newHandle()
	results := make(chan VariableValuesResult, 1)
	clone := d.Clone()

	go func() {
		defer close(h.done)
		child, cancel := h.cancellableContext(ctx)
		defer cancel()

		values, err := clone.VariableValues(child, handling)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		if err == nil {
			results <- VariableValuesResult{Values: values}
		}
		close(results)
	}()

	return h, results
}

// SliceResult is the outcome delivered by SliceAsync.
type SliceResult struct {
	Ranges map[ir.SourceRange]bool
}

// SliceAsync is VariableValuesAsync's Slice counterpart: dispatches Slice on a
// goroutine over a cloned façade.
func (d *Debugger) SliceAsync(ctx context.Context, sourceVariable string) (*Handle, <-chan SliceResult) {
	h := newHandle()
	results := make(chan SliceResult, 1)
	clone := d.Clone()

	go func() {
		defer close(h.done)
		child, cancel := h.cancellableContext(ctx)
		defer cancel()

		ranges, err := clone.Slice(child, sourceVariable)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		if err == nil {
			results <- SliceResult{Ranges: ranges}
		}
		close(results)
	}()

	return h, results
}

func pollTicker() *time.Ticker {
	return time.NewTicker(pollInterval)
}

const pollInterval = 20 * time.Millisecond
