package services

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher hands a single document activation off as an independent unit
// of work so that polling never blocks the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, projectID, documentID string) error
}

// LocalDispatcher runs each activation in its own goroutine, detached from the
// dispatching request's cancellation.
type LocalDispatcher struct {
	machine *StateMachine
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewLocalDispatcher(machine *StateMachine, log *slog.Logger) *LocalDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LocalDispatcher{machine: machine, log: log}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, projectID, documentID string) error {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resp, err := d.machine.AdvanceByID(detached, projectID, documentID)
		if err != nil {
			d.log.Error("Background activation could not start.", "projectId", projectID, "documentId", documentID, "error", err)
			return
		}
		d.log.Info("Background activation finished.", "projectId", projectID, "documentId", documentID, "state", resp.ProcessingState)
	}()
	return nil
}

// Wait blocks until every dispatched activation has finished or ctx ends.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
