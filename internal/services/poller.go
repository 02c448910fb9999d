package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 24
)

// PollResult is the outcome of waiting for a registered file to leave the
// backend's processing state.
type PollResult struct {
	Handle   models.FileHandle
	Attempts int
	// TimedOut is set when the attempt ceiling was reached (or ctx ended)
	// before a terminal state was observed. Handle.State is FAILED then.
	TimedOut bool
	LastErr  error
}

// Active reports whether the backend accepted the file.
func (r PollResult) Active() bool {
	return !r.TimedOut && r.Handle.State == models.FileStateActive
}

// ActivationPoller waits for registered files to become usable.
type ActivationPoller struct {
	registry    FileRegistry
	interval    time.Duration
	maxAttempts int
	sleep       retry.SleepFunc
	log         *slog.Logger
}

type PollerOption func(*ActivationPoller)

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *ActivationPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPollMaxAttempts(n int) PollerOption {
	return func(p *ActivationPoller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithPollSleep(fn retry.SleepFunc) PollerOption {
	return func(p *ActivationPoller) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func NewActivationPoller(registry FileRegistry, log *slog.Logger, opts ...PollerOption) *ActivationPoller {
	if log == nil {
		log = slog.Default()
	}
	p := &ActivationPoller{
		registry:    registry,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultPollMaxAttempts,
		sleep:       retry.Sleep,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ActivationPoller) MaxAttempts() int { return p.maxAttempts }

// PollUntilTerminal fetches handle every interval until it is no longer
// processing or maxAttempts fetches have been made. Fetch errors are logged
// and retried on the next interval. onAttempt, if set, runs after each fetch.
func (p *ActivationPoller) PollUntilTerminal(ctx context.Context, handle models.FileHandle, onAttempt func(attempt, maxAttempts int)) PollResult {
	logCtx := p.log.With("fileName", handle.Name)
	if !handle.Pending() {
		return PollResult{Handle: handle}
	}

	current := handle
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.sleep(ctx, p.interval); err != nil {
			logCtx.Warn("Polling cancelled.", "attempt", attempt, "error", err)
			return p.exhausted(current, attempt-1, err)
		}

		fetched, err := p.registry.GetFile(ctx, handle.Name)
		if onAttempt != nil {
			onAttempt(attempt, p.maxAttempts)
		}
		if err != nil {
			lastErr = err
			logCtx.Warn("Failed to fetch file state, will poll again.", "attempt", attempt, "maxAttempts", p.maxAttempts, "error", err)
			continue
		}
		current = fetched
		lastErr = nil
		if !fetched.Pending() {
			logCtx.Info("File reached terminal state.", "state", fetched.State, "attempt", attempt)
			return PollResult{Handle: fetched, Attempts: attempt}
		}
	}
	logCtx.Error("File did not reach a terminal state before the attempt ceiling.", "maxAttempts", p.maxAttempts, "lastError", lastErr)
	return p.exhausted(current, p.maxAttempts, lastErr)
}

func (p *ActivationPoller) exhausted(last models.FileHandle, attempts int, err error) PollResult {
	last.State = models.FileStateFailed
	return PollResult{Handle: last, Attempts: attempts, TimedOut: true, LastErr: err}
}
