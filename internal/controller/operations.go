package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/actions"
	"github.com/dokzlo13/keylightctl/internal/device"
)

// lightOp is a per-light primitive; i indexes c.lights and c.states
type lightOp func(ctx context.Context, job actions.Job, i int) error

// eachLight turns a per-light primitive into an action handler over all lights
func (c *Controller) eachLight(op lightOp) actions.Handler {
	return func(ctx context.Context, job actions.Job) error {
		return c.forEachLight(ctx, job, c.all(), func(ctx context.Context, i int) error {
			return op(ctx, job, i)
		})
	}
}

// forEachLight runs fn for every index concurrently and waits for all of them.
// A failing or panicking light does not affect the others; each failure is
// logged here and the joined error is returned.
func (c *Controller) forEachLight(ctx context.Context, job actions.Job, indices []int, fn func(ctx context.Context, i int) error) error {
	errs := make([]error, len(indices))

	var wg sync.WaitGroup
	for n, i := range indices {
		n, i := n, i
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[n] = fmt.Errorf("light %q: panic: %v", c.lights[i].label(), r)
					log.Error().
						Interface("panic", r).
						Str("light", c.lights[i].label()).
						Str("action", string(job.Action)).
						Msg("Light operation panicked")
				}
			}()

			if err := fn(ctx, i); err != nil {
				errs[n] = fmt.Errorf("light %q: %w", c.lights[i].label(), err)
				log.Error().Err(err).
					Str("light", c.lights[i].label()).
					Str("action", string(job.Action)).
					Str("action_id", job.ID).
					Msg("Light operation failed")
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (c *Controller) all() []int {
	indices := make([]int, len(c.lights))
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// refresh reads the device state and overwrites the cache
func (c *Controller) refresh(ctx context.Context, job actions.Job, i int) error {
	s, err := c.lights[i].Client.State(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	st := stateFromDevice(s)
	c.states[i] = st

	event := log.Info().
		Str("light", c.lights[i].label()).
		Bool("on", st.On).
		Int("brightness", st.Brightness)
	if st.Temperature != nil {
		event = event.Int("temperature", *st.Temperature)
	}
	event.Msg("Updated light state")
	return nil
}

func (c *Controller) toggle(ctx context.Context, job actions.Job, i int) error {
	st := c.states[i]
	if st == nil {
		c.skip(job, i)
		return nil
	}

	st.On = !st.On
	on := st.On
	return c.write(ctx, i, device.Update{On: &on})
}

func (c *Controller) adjustBrightness(delta int) lightOp {
	return func(ctx context.Context, job actions.Job, i int) error {
		st := c.states[i]
		if st == nil {
			c.skip(job, i)
			return nil
		}

		st.Brightness = ClampBrightness(st.Brightness + delta)
		brightness := st.Brightness
		return c.write(ctx, i, device.Update{Brightness: &brightness})
	}
}

func (c *Controller) adjustTemperature(delta int) lightOp {
	return func(ctx context.Context, job actions.Job, i int) error {
		st := c.states[i]
		if st == nil || st.Temperature == nil {
			c.skip(job, i)
			return nil
		}

		t := ClampTemperature(*st.Temperature + delta)
		st.Temperature = &t
		temperature := t
		return c.write(ctx, i, device.Update{Temperature: &temperature})
	}
}

// sync copies the state of the reference light (index 0) to every other light
func (c *Controller) sync(ctx context.Context, job actions.Job) error {
	log.Info().Str("reference", c.lights[0].label()).Msg("Syncing lights")

	if err := c.refresh(ctx, job, 0); err != nil {
		return fmt.Errorf("sync aborted, reference light %q: %w", c.lights[0].label(), err)
	}
	target := c.states[0].clone()

	others := c.all()[1:]
	writeErr := c.forEachLight(ctx, job, others, func(ctx context.Context, i int) error {
		st := target.clone()
		c.states[i] = st

		on, brightness := st.On, st.Brightness
		u := device.Update{On: &on, Brightness: &brightness}
		if st.Temperature != nil {
			temperature := *st.Temperature
			u.Temperature = &temperature
		}
		return c.write(ctx, i, u)
	})

	// Read back what the lights actually applied
	refreshErr := c.forEachLight(ctx, job, c.all(), func(ctx context.Context, i int) error {
		return c.refresh(ctx, job, i)
	})

	if err := errors.Join(writeErr, refreshErr); err != nil {
		return err
	}
	log.Info().Int("lights", len(c.lights)).Msg("Lights synced")
	return nil
}

func (c *Controller) write(ctx context.Context, i int, u device.Update) error {
	if err := c.lights[i].Client.SetLight(ctx, u); err != nil {
		return fmt.Errorf("set light: %w", err)
	}
	return nil
}

// skip logs that a light has no cached state for the action. Not an error.
func (c *Controller) skip(job actions.Job, i int) {
	log.Info().
		Str("light", c.lights[i].label()).
		Str("action", string(job.Action)).
		Msg("Light has no state yet, skipping")
}
