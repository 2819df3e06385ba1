package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/normanking/cortexpuppet/internal/bus"
	"github.com/normanking/cortexpuppet/internal/config"
	"github.com/normanking/cortexpuppet/internal/logging"
	"github.com/normanking/cortexpuppet/internal/relay"
	"github.com/normanking/cortexpuppet/internal/server"
	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/normanking/cortexpuppet/internal/takes"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking server",
		Long:  "Serve websocket tracking sessions, health and metrics. Mapping settings are reloaded when the config file changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context, addr string) error {
	// Config is read before the file logger exists.
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("component", "config").Logger()
	cfg, loader, err := loadConfig(boot)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logs, err := logging.New(&cfg.Logging)
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Component("serve")
	log.Info().Str("version", version).Str("config", loader.Path()).Msg("starting cortexpuppet")

	lib, err := loadLibrary(cfg.Library.Dir, logs.Component("library"))
	if err != nil {
		return err
	}
	log.Info().
		Int("templates", len(lib.Templates())).
		Int("characters", len(lib.Characters())).
		Msg("character library loaded")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	var sinks []session.Sink

	if cfg.Takes.Enabled {
		store, err := takes.Open(cfg.Takes.Path)
		if err != nil {
			return fmt.Errorf("open takes: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, takes.NewRecorder(store, logs.Component("takes")))
		log.Info().Str("path", cfg.Takes.Path).Msg("recording takes")

		if cfg.Takes.Retention > 0 {
			janitor, err := takes.NewJanitor(store, cfg.Takes.PruneSchedule, cfg.Takes.Retention, logs.Component("takes"))
			if err != nil {
				return err
			}
			if _, err := janitor.RunOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("initial take pruning failed")
			}
			janitor.Start()
			defer janitor.Stop()
		}
	}

	if cfg.Relay.Enabled {
		pub, err := relay.Dial(ctx, relay.Config{
			Addr:     cfg.Relay.Addr,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
			Prefix:   cfg.Relay.Prefix,
		}, logs.Component("relay"))
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	events := bus.NewEventBus()
	defer events.Clear()
	events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeTrackingStarted,
		bus.EventTypeTrackingStopped,
		bus.EventTypeSinkError,
	}, func(e bus.Event) {
		log.Debug().Str("event", string(e.Type)).Str("session", e.SessionID).Interface("data", e.Data).Msg("session event")
	})

	srv := server.New(server.Options{
		Config:           cfg.Server,
		Mapping:          cfg.Mapping,
		Library:          lib,
		DefaultCharacter: cfg.Library.DefaultCharacter,
		Bus:              events,
		Sinks:            sinks,
		Logger:           logs.Component("server"),
		Logs:             logs,
	})

	loader.Watch(func(next *config.Config) {
		srv.ApplyMapping(next.Mapping)
	})

	return srv.Start(ctx)
}
