package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/keylightctl/internal/app"
	"github.com/dokzlo13/keylightctl/internal/config"
	"github.com/dokzlo13/keylightctl/internal/dbus"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	send := flag.String("send", "", "Send an action to the running daemon over D-Bus and exit")
	macro := flag.String("macro", "", "Run a Lua macro in the running daemon over D-Bus and exit")
	flag.Parse()

	if *send != "" || *macro != "" {
		setupLogging("info", false, true)
		os.Exit(runClient(*send, *macro))
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting keylightctl")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Runs until SIGINT/SIGTERM, then drains the dispatcher
	if err := application.Run(app.SignalContext()); err != nil {
		log.Fatal().Err(err).Msg("keylightctl failed")
	}
}

// runClient talks to a running daemon and returns the process exit code
func runClient(action, macro string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := dbus.Dial()
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to session bus")
		return 1
	}
	defer client.Close()

	if action != "" {
		if err := client.Do(ctx, action); err != nil {
			log.Error().Err(err).Msg("Action not accepted")
			return 1
		}
		log.Info().Str("action", action).Msg("Action sent")
	}
	if macro != "" {
		if err := client.RunMacro(ctx, macro); err != nil {
			log.Error().Err(err).Msg("Macro not accepted")
			return 1
		}
		log.Info().Str("macro", macro).Msg("Macro sent")
	}
	return 0
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
