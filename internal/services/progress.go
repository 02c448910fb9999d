package services

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

const defaultProgressBuffer = 16

// ProgressReporter carries status/complete/error events for one long-running
// operation from a single producer to a single consumer, in order. Exactly one
// terminal event is delivered and it is always the last; the channel is
// closed right after it.
type ProgressReporter struct {
	events chan models.ProgressEvent
	gone   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	finished bool

	detachOnce sync.Once
}

func NewProgressReporter(buffer int) *ProgressReporter {
	if buffer < 0 {
		buffer = defaultProgressBuffer
	}
	return &ProgressReporter{
		events: make(chan models.ProgressEvent, buffer),
		gone:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events is the consumer side of the reporter.
func (r *ProgressReporter) Events() <-chan models.ProgressEvent {
	return r.events
}

func (r *ProgressReporter) Status(text string) {
	r.send(models.StatusEvent(text))
}

// Complete emits the success event. It reports false if a terminal event was
// already emitted.
func (r *ProgressReporter) Complete(locator string) bool {
	return r.send(models.CompleteEvent(locator))
}

// Error emits the failure event. It reports false if a terminal event was
// already emitted.
func (r *ProgressReporter) Error(message string) bool {
	return r.send(models.ErrorEvent(message))
}

// Detach is called by the consumer when it stops reading (e.g. the client
// disconnected). Later sends are dropped without blocking.
func (r *ProgressReporter) Detach() {
	r.detachOnce.Do(func() { close(r.gone) })
}

// Done is closed once the terminal event has been emitted, whether or not a
// consumer was still attached to receive it.
func (r *ProgressReporter) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether a terminal event has been emitted.
func (r *ProgressReporter) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *ProgressReporter) send(e models.ProgressEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}
	if e.IsTerminal() {
		r.finished = true
		defer close(r.done)
		defer close(r.events)
	}

	select {
	case <-r.gone:
		return e.IsTerminal()
	default:
	}
	select {
	case r.events <- e:
	case <-r.gone:
	}
	return true
}

// StageError tags a failure with the message shown when its category is generic.
type StageError struct {
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with a stage-specific user message. A nil err stays nil.
func Stage(message string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Message: message, Err: err}
}

// UserMessage picks the short client-facing text for err.
func UserMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return apperr.UserMessage(se.Err, se.Message)
	}
	return apperr.UserMessage(err, "")
}

// Run executes fn and guarantees that r receives exactly one terminal event:
// Complete with fn's locator on success, Error with a categorised message on
// failure or panic. Raw errors are logged, never sent.
func Run(r *ProgressReporter, log *slog.Logger, fn func() (string, error)) {
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("Pipeline panicked.", "panic", p)
			r.Error(apperr.UserMessage(nil, ""))
		}
		if !r.Finished() {
			log.Error("Pipeline finished without a terminal event.")
			r.Error(apperr.UserMessage(nil, ""))
		}
	}()

	locator, err := fn()
	if err != nil {
		log.Error("Pipeline failed.", "error", err)
		r.Error(UserMessage(err))
		return
	}
	if locator == "" {
		log.Error("Pipeline produced no artifact locator.")
		r.Error(UserMessage(Stage("The report finished without a download link.", apperr.ErrEmptyResult)))
		return
	}
	r.Complete(locator)
}
