package app

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/keylightctl/internal/actions"
	"github.com/dokzlo13/keylightctl/internal/config"
	"github.com/dokzlo13/keylightctl/internal/controller"
	"github.com/dokzlo13/keylightctl/internal/db"
	"github.com/dokzlo13/keylightctl/internal/dbus"
	"github.com/dokzlo13/keylightctl/internal/device"
	"github.com/dokzlo13/keylightctl/internal/eventbus"
	"github.com/dokzlo13/keylightctl/internal/hotkey"
	"github.com/dokzlo13/keylightctl/internal/ledger"
	"github.com/dokzlo13/keylightctl/internal/script"
	"github.com/dokzlo13/keylightctl/internal/status"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Lights and the dispatcher
	Clients    []*device.HTTPClient
	Controller *controller.Controller

	// Optional front ends
	Script  *script.Runtime
	Hotkeys *hotkey.Source
	DBus    *dbus.Service
	Status  *status.Server

	runCancel    context.CancelFunc
	shuttingDown atomic.Bool
}

// NewServices creates all services with proper dependency injection.
// Nothing touches the network until Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	retention := time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour
	if deleted, err := s.Ledger.DeleteOlderThan(retention); err != nil {
		log.Warn().Err(err).Msg("Failed to prune action ledger")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Int("retention_days", cfg.Ledger.RetentionDays).Msg("Pruned action ledger")
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	for _, l := range cfg.Lights {
		s.Clients = append(s.Clients, device.NewHTTPClient(l.Address(), cfg.Device.Timeout.Duration(), cfg.Device.GetRateLimitRPS()))
	}

	if cfg.Healthcheck.Enabled {
		addr := cfg.Healthcheck.GetHost() + ":" + strconv.Itoa(cfg.Healthcheck.GetPort())
		s.Status = status.NewServer(addr, s.Ledger, cfg.GetShutdownTimeout())
		s.Status.Subscribe(s.Bus)
	}

	return s, nil
}

// Start starts all services in the correct order.
// onFatalError is called when the dispatcher exits on its own, e.g. after a
// macro or a D-Bus client enqueued stop.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	lights, err := s.lights(ctx)
	if err != nil {
		return err
	}

	s.Controller, err = controller.New(lights, controller.Options{
		Recorder:  s.Ledger,
		Publisher: s.Bus,
	})
	if err != nil {
		return err
	}

	// The dispatcher outlives ctx so the shutdown path can still drain it with stop.
	runCtx, runCancel := context.WithCancel(context.Background())
	s.runCancel = runCancel
	go func() {
		if err := s.Controller.Run(runCtx); err != nil {
			log.Debug().Err(err).Msg("Dispatcher returned")
		}
		if !s.shuttingDown.Load() {
			onFatalError(fmt.Errorf("dispatcher stopped"))
		}
	}()

	if s.cfg.Script != "" {
		s.Script = script.NewRuntime(s.Controller)
		if err := s.Script.LoadScript(s.cfg.Script); err != nil {
			return err
		}
		go s.Script.Run(ctx)
	}

	if s.Status != nil {
		s.Status.Start(ctx)
	}

	if s.cfg.Input.IsEnabled() && len(s.cfg.Hotkeys) > 0 {
		bindings, err := s.bindings(ctx)
		if err != nil {
			return err
		}
		s.Hotkeys, err = hotkey.NewSource(s.cfg.Input.Devices, bindings)
		if err != nil {
			return err
		}
		if err := s.Hotkeys.Start(ctx); err != nil {
			return fmt.Errorf("failed to start hotkey capture: %w", err)
		}
	} else if len(s.cfg.Hotkeys) > 0 {
		log.Info().Msg("Hotkey capture disabled, bindings ignored")
	}

	if s.cfg.DBus.Enabled {
		var macros dbus.MacroRunner
		if s.Script != nil {
			macros = s.Script
		}
		s.DBus = dbus.NewService(s.Controller, macros)
		if err := s.DBus.Start(ctx); err != nil {
			return err
		}
	}

	s.Controller.Enqueue(actions.Refresh, actions.SourceStartup)
	if s.Status != nil {
		s.Status.SetReady(true)
	}
	return nil
}

// lights probes every configured light concurrently (when enabled) and builds
// the controller's light list in configured order
func (s *Services) lights(ctx context.Context) ([]controller.Light, error) {
	lights := make([]controller.Light, len(s.cfg.Lights))
	for i, l := range s.cfg.Lights {
		lights[i] = controller.Light{Name: l.Name, Address: l.Address(), Client: s.Clients[i]}
	}

	if s.cfg.Device.ShouldProbe() {
		g, gctx := errgroup.WithContext(ctx)
		for i, l := range s.cfg.Lights {
			i, l := i, l
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(gctx, s.cfg.Device.Timeout.Duration())
				defer cancel()

				info, err := device.Probe(probeCtx, l.Address())
				if err != nil {
					return fmt.Errorf("light %s unreachable: %w", l.Label(), err)
				}
				if lights[i].Name == "" {
					lights[i].Name = info.DisplayName
				}
				log.Info().
					Str("light", l.Label()).
					Str("product", info.ProductName).
					Str("serial", info.SerialNumber).
					Str("firmware", info.FirmwareVersion).
					Msg("Light reachable")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for i, l := range s.cfg.Lights {
		if lights[i].Name == "" {
			lights[i].Name = l.IP
		}
	}
	return lights, nil
}

// bindings turns the hotkey config into callbacks
func (s *Services) bindings(ctx context.Context) ([]hotkey.Binding, error) {
	bindings := make([]hotkey.Binding, 0, len(s.cfg.Hotkeys))
	for _, h := range s.cfg.Hotkeys {
		combo, err := hotkey.ParseCombo(h.Key)
		if err != nil {
			return nil, err
		}

		b := hotkey.Binding{Combo: combo, Repeat: h.Repeat}
		if h.Macro != "" {
			if s.Script == nil || !s.Script.HasMacro(h.Macro) {
				return nil, fmt.Errorf("hotkey %s: macro %q not defined by script", h.Key, h.Macro)
			}
			name := h.Macro
			b.Label = "macro:" + name
			b.Trigger = func() {
				if err := s.Script.RunMacro(ctx, name); err != nil {
					log.Error().Err(err).Str("macro", name).Msg("Failed to run macro")
				}
			}
		} else {
			action, err := actions.Parse(h.Action)
			if err != nil {
				return nil, err
			}
			b.Label = action.String()
			b.Trigger = func() {
				s.Controller.Enqueue(action, actions.SourceHotkey)
			}
		}

		log.Info().Str("key", combo.String()).Str("binding", b.Label).Bool("repeat", h.Repeat).Msg("Hotkey registered")
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// Stop gracefully stops all services: front ends first, then the dispatcher
// through a stop action, then infrastructure.
func (s *Services) Stop() error {
	s.shuttingDown.Store(true)

	if s.Hotkeys != nil {
		s.Hotkeys.Stop()
	}
	if s.DBus != nil {
		s.DBus.Stop()
	}
	if s.Status != nil {
		s.Status.SetReady(false)
	}

	if s.Controller != nil {
		select {
		case <-s.Controller.Done():
			log.Debug().Msg("Dispatcher already stopped")
		default:
			s.Controller.Enqueue(actions.Stop, actions.SourceShutdown)

			timeout := s.cfg.GetShutdownTimeout()
			select {
			case <-s.Controller.Done():
			case <-time.After(timeout):
				log.Warn().Dur("timeout", timeout).Msg("Dispatcher did not stop in time")
			}
		}
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	s.shuttingDown.Store(true)
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.Script != nil {
		s.Script.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	for _, c := range s.Clients {
		_ = c.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
