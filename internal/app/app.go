package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/config"
)

// App owns the services of one keylightctl daemon.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the ledger and prepares the device clients. No light is contacted yet.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Run starts the daemon, blocks until ctx is cancelled or the dispatcher
// exits on its own, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.Wait()
	return a.Stop()
}

// Start probes the lights and brings up the dispatcher and every enabled front end.
// On failure everything already started is released.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		a.services.Close()
		return err
	}

	log.Info().
		Int("lights", len(a.cfg.Lights)).
		Int("hotkeys", len(a.cfg.Hotkeys)).
		Bool("dbus", a.cfg.DBus.Enabled).
		Bool("status", a.cfg.Healthcheck.Enabled).
		Msg("keylightctl started")
	return nil
}

// Stop drains the dispatcher with a stop action and releases resources.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	err := a.services.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	return err
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
