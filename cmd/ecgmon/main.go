// Command ecgmon receives ECG samples over HTTP (and optionally MQTT),
// batches them and keeps a rolling history of LLM-written summaries.
//
// Configuration comes from the environment, optionally seeded from a .env
// file. See internal/config for the keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/ecgmon/internal/api"
	"github.com/abelbrown/ecgmon/internal/brain"
	"github.com/abelbrown/ecgmon/internal/config"
	"github.com/abelbrown/ecgmon/internal/logging"
	"github.com/abelbrown/ecgmon/internal/model"
	"github.com/abelbrown/ecgmon/internal/mqttsource"
	"github.com/abelbrown/ecgmon/internal/otel"
	"github.com/abelbrown/ecgmon/internal/pipeline"
	"github.com/abelbrown/ecgmon/internal/publish"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file to load before reading the environment")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "ecgmon: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := logging.Init(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logging.Close()

	events, err := otel.Open(cfg.Log.EventsFile)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events.SetRingBuffer(ring)
	defer events.Close()

	provider := newProvider(cfg.LLM)
	if !provider.Available() {
		logging.Warn("Analysis provider not available; batches will fail until it is",
			"provider", provider.Name(), "endpoint", cfg.LLM.Endpoint)
	}
	analyzer := brain.NewAnalyzer(provider, brain.AnalyzerConfig{
		Timeout:       cfg.Pipeline.DispatchTimeout,
		Retries:       cfg.LLM.Retries,
		RatePerSecond: cfg.LLM.RatePerSec,
		MaxTokens:     cfg.LLM.MaxTokens,
	})

	opts := []pipeline.Option{pipeline.WithEvents(events)}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := publish.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, pipeline.WithSink(pub))
	}

	pipe, err := pipeline.New(pipeline.Config{
		BatchSize:       cfg.Pipeline.BatchSize,
		Window:          cfg.Pipeline.HistoryWindow,
		Retention:       cfg.Pipeline.HistoryRetention,
		DispatchTimeout: analyzer.Budget(),
		MaxInFlight:     cfg.Pipeline.MaxInFlight,
		Limits:          model.Limits{ValueMin: cfg.Pipeline.ValueMin, ValueMax: cfg.Pipeline.ValueMax},
	}, analyzer, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg.Server.ListenAddr, pipe, ring)

	events.Info(otel.KindStartup, "main", fmt.Sprintf("listening on %s, provider %s", cfg.Server.ListenAddr, provider.Name()))
	logging.Info("ecgmon starting",
		"addr", cfg.Server.ListenAddr,
		"provider", provider.Name(),
		"session", events.SessionID())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.MQTT.Broker != "" {
		src := mqttsource.New(mqttsource.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, pipe, events)
		g.Go(func() error { return src.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			logging.Error("HTTP shutdown failed", "error", err)
		}
		return pipe.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("ecgmon stopped with error", "error", err)
		return err
	}
	logging.Info("ecgmon stopped")
	return nil
}

// newProvider builds the configured completion backend.
func newProvider(c config.LLMConfig) brain.Provider {
	switch c.Provider {
	case "ollama":
		return brain.NewHTTPProvider(brain.OllamaConfig(c.Endpoint, c.Model))
	default:
		return brain.NewHTTPProvider(brain.OpenAIConfig(c.Endpoint, c.Model, c.APIKey))
	}
}
