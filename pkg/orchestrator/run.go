package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/user/detectshow/pkg/pipeline"
)

// Event is one value on a run's event channel: EventProgress,
// EventComplete or EventFailed.
type Event interface {
	event()
}

// EventProgress reports that Sample of Total samples is done.
type EventProgress struct {
	Sample   int
	Total    int
	Fraction float64
}

// EventComplete is the terminal event of a successful run.
type EventComplete struct {
	Result Result
}

// EventFailed is the terminal event of a failed or canceled run.
type EventFailed struct {
	Message string
	Err     error
}

func (EventProgress) event() {}
func (EventComplete) event() {}
func (EventFailed) event()   {}

// Run is a pipeline run in progress. Events carries one EventProgress per
// sample followed by exactly one terminal event, then is closed. Events
// are queued without bound, so the worker never blocks on a slow reader.
type Run struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}

	pumpOnce sync.Once
	events   chan Event

	once   sync.Once
	result Result
	err    error
}

func newRun(cancel context.CancelFunc) *Run {
	return &Run{
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Events returns the event channel. Events emitted before the first call
// are delivered too.
func (r *Run) Events() <-chan Event {
	r.pumpOnce.Do(func() {
		r.events = make(chan Event)
		go r.pump()
	})
	return r.events
}

// pump moves queued events to the channel and closes it after the
// terminal event.
func (r *Run) pump() {
	defer close(r.events)
	for {
		r.mu.Lock()
		queue, closed := r.queue, r.closed
		r.queue = nil
		r.mu.Unlock()

		for _, ev := range queue {
			r.events <- ev
		}
		if closed {
			return
		}
		<-r.wake
	}
}

func (r *Run) push(ev Event, last bool) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.closed = r.closed || last
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Cancel asks the worker to stop. The run then fails with
// pipeline.ErrCanceled once the current sample is finished.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run has ended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}

func (r *Run) progress(i, n int) {
	r.push(EventProgress{
		Sample:   i + 1,
		Total:    n + 1,
		Fraction: float64(i+1) / float64(n+1),
	}, false)
}

func (r *Run) finish(result Result, err error) {
	r.once.Do(func() {
		r.result, r.err = result, err
		if err != nil {
			msg := err.Error()
			if errors.Is(err, pipeline.ErrCanceled) {
				msg = pipeline.ErrCanceled.Error()
			}
			r.push(EventFailed{Message: msg, Err: err}, true)
		} else {
			r.push(EventComplete{Result: result}, true)
		}
		r.cancel()
		close(r.done)
	})
}
