// Package controller serializes light actions and applies them to every configured light.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/actions"
	"github.com/dokzlo13/keylightctl/internal/device"
	"github.com/dokzlo13/keylightctl/internal/eventbus"
)

// Light is one configured light and its device client
type Light struct {
	Name    string
	Address string
	Client  device.Client
}

func (l Light) label() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Address
}

// Publisher receives controller notifications
type Publisher interface {
	Publish(event eventbus.Event)
}

// ProcessedEvent is the payload of eventbus.EventTypeActionProcessed
type ProcessedEvent struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	Source   string          `json:"source"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error,omitempty"`
	Lights   []LightSnapshot `json:"lights"`
}

// RejectedEvent is the payload of eventbus.EventTypeActionRejected
type RejectedEvent struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Source string `json:"source"`
}

// Options configures optional controller collaborators
type Options struct {
	Recorder  actions.Recorder
	Publisher Publisher
}

// Controller owns the action queue, the dispatcher loop and the cached light states.
//
// Only the dispatcher goroutine started by Run touches the cache: each action
// runs to completion, including its per-light goroutines, before the next one
// is dequeued, and a per-light goroutine only writes its own light's slot.
type Controller struct {
	lights    []Light
	states    []*LightState
	queue     *Queue
	registry  *actions.Registry
	invoker   *actions.Invoker
	publisher Publisher
	done      chan struct{}
}

// New creates a controller for lights, in configured order; lights[0] is the sync reference.
func New(lights []Light, opts Options) (*Controller, error) {
	if len(lights) == 0 {
		return nil, errors.New("controller needs at least one light")
	}

	c := &Controller{
		lights:    lights,
		states:    make([]*LightState, len(lights)),
		queue:     NewQueue(),
		registry:  actions.NewRegistry(),
		publisher: opts.Publisher,
		done:      make(chan struct{}),
	}
	c.invoker = actions.NewInvoker(c.registry, opts.Recorder)

	handlers := map[actions.Action]actions.Handler{
		actions.Refresh:         c.eachLight(c.refresh),
		actions.Toggle:          c.eachLight(c.toggle),
		actions.BrightnessUp:    c.eachLight(c.adjustBrightness(BrightnessStep)),
		actions.BrightnessDown:  c.eachLight(c.adjustBrightness(-BrightnessStep)),
		actions.TemperatureUp:   c.eachLight(c.adjustTemperature(TemperatureStep)),
		actions.TemperatureDown: c.eachLight(c.adjustTemperature(-TemperatureStep)),
		actions.Sync:            c.sync,
		actions.Stop:            c.closeLights,
	}
	for _, a := range actions.All {
		if err := c.registry.Register(a, handlers[a]); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Enqueue queues an action without blocking. It returns false once the
// controller has dequeued Stop; the rejection is logged.
func (c *Controller) Enqueue(action actions.Action, source actions.Source) bool {
	job := actions.NewJob(action, source)
	if !c.queue.Push(job) {
		log.Warn().
			Str("action", string(action)).
			Str("source", string(source)).
			Msg("Controller stopped, action rejected")
		c.publish(eventbus.Event{
			Type:    eventbus.EventTypeActionRejected,
			Payload: RejectedEvent{ID: job.ID, Action: string(action), Source: string(source)},
		})
		return false
	}

	log.Debug().
		Str("action", string(action)).
		Str("action_id", job.ID).
		Str("source", string(source)).
		Msg("Action enqueued")
	return true
}

// Actions returns the names of all dispatchable actions
func (c *Controller) Actions() []string {
	return c.registry.Names()
}

// Done is closed when the dispatcher loop has exited
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run is the dispatcher loop. It returns nil after processing Stop.
// Cancelling ctx aborts the wait for the next action; an action that already
// started is never cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	opCtx := context.WithoutCancel(ctx)
	log.Info().Int("lights", len(c.lights)).Msg("Dispatcher started")

	for {
		job, err := c.queue.Pop(ctx)
		if err != nil {
			c.discard(c.queue.Close())
			c.closeLights(opCtx, actions.Job{Action: actions.Stop})
			log.Warn().Err(err).Msg("Dispatcher aborted")
			return err
		}

		if job.Action == actions.Stop {
			c.discard(c.queue.Close())
		}

		c.process(opCtx, job)

		if job.Action == actions.Stop {
			log.Info().Msg("Dispatcher stopped")
			return nil
		}
	}
}

// process executes one job to completion. Errors are logged, never returned:
// a failing action must not stop the loop.
func (c *Controller) process(ctx context.Context, job actions.Job) {
	logger := log.With().
		Str("action", string(job.Action)).
		Str("action_id", job.ID).
		Str("source", string(job.Source)).
		Logger()

	logger.Info().Msg("Processing action")
	start := time.Now()

	err := c.invoker.Invoke(ctx, job)

	elapsed := time.Since(start)
	if err != nil {
		logger.Error().Err(err).Dur("duration", elapsed).Msg("Action finished with errors")
	} else {
		logger.Debug().Dur("duration", elapsed).Msg("Action processed")
	}

	event := ProcessedEvent{
		ID:       job.ID,
		Action:   string(job.Action),
		Source:   string(job.Source),
		Duration: elapsed,
		Lights:   c.snapshot(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	c.publish(eventbus.Event{Type: eventbus.EventTypeActionProcessed, Payload: event})
}

func (c *Controller) discard(jobs []actions.Job) {
	for _, job := range jobs {
		log.Warn().
			Str("action", string(job.Action)).
			Str("action_id", job.ID).
			Str("source", string(job.Source)).
			Msg("Controller stopping, queued action discarded")
	}
}

// closeLights closes every device client concurrently
func (c *Controller) closeLights(ctx context.Context, job actions.Job) error {
	return c.forEachLight(ctx, job, c.all(), func(ctx context.Context, i int) error {
		if err := c.lights[i].Client.Close(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
		return nil
	})
}

// snapshot copies the cache. Dispatcher goroutine only.
func (c *Controller) snapshot() []LightSnapshot {
	out := make([]LightSnapshot, len(c.lights))
	for i, l := range c.lights {
		out[i] = LightSnapshot{Name: l.label(), Address: l.Address}
		if st := c.states[i]; st != nil {
			st = st.clone()
			out[i].Known = true
			out[i].On = st.On
			out[i].Brightness = st.Brightness
			out[i].Temperature = st.Temperature
		}
	}
	return out
}

func (c *Controller) publish(event eventbus.Event) {
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
}
