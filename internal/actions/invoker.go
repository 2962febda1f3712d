package actions

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/ledger"
)

// Recorder receives action lifecycle entries
type Recorder interface {
	Append(eventType ledger.EventType, actionID, source string, payload map[string]any) error
}

// Invoker executes registered handlers with panic recovery and ledger bookkeeping
type Invoker struct {
	registry *Registry
	recorder Recorder
}

// NewInvoker creates a new action invoker. recorder may be nil.
func NewInvoker(registry *Registry, recorder Recorder) *Invoker {
	return &Invoker{
		registry: registry,
		recorder: recorder,
	}
}

// Invoke runs the handler registered for job.Action.
// Errors and panics raised by the handler are returned, never propagated as panics.
func (i *Invoker) Invoke(ctx context.Context, job Job) (err error) {
	handler, exists := i.registry.Get(job.Action)
	if !exists {
		err = fmt.Errorf("action %q not registered", job.Action)
		i.record(ledger.EventActionFailed, job, map[string]any{
			"action": string(job.Action),
			"error":  err.Error(),
		})
		return err
	}

	i.record(ledger.EventActionStarted, job, map[string]any{
		"action":        string(job.Action),
		"queued_for_ms": time.Since(job.EnqueuedAt).Milliseconds(),
	})

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("action", string(job.Action)).
				Str("action_id", job.ID).
				Bytes("stack", debug.Stack()).
				Msg("Action handler panicked")
			err = fmt.Errorf("action %q panicked: %v", job.Action, r)
		}

		payload := map[string]any{
			"action":      string(job.Action),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
			i.record(ledger.EventActionFailed, job, payload)
			return
		}
		i.record(ledger.EventActionCompleted, job, payload)
	}()

	return handler(ctx, job)
}

func (i *Invoker) record(eventType ledger.EventType, job Job, payload map[string]any) {
	if i.recorder == nil {
		return
	}
	if err := i.recorder.Append(eventType, job.ID, string(job.Source), payload); err != nil {
		log.Warn().Err(err).
			Str("action", string(job.Action)).
			Str("event", string(eventType)).
			Msg("Failed to append to ledger")
	}
}
