// Orbit is an AI assistant daemon for music producers. It answers chat
// requests through a configurable model backend and drives Ableton Live
// over OSC.
//
// Usage:
//
//	orbit [flags]
//	orbit --config /path/to/orbit.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/orbit-app/orbit/internal/ableton"
	"github.com/orbit-app/orbit/internal/assistant"
	"github.com/orbit-app/orbit/internal/assistant/embedded"
	"github.com/orbit-app/orbit/internal/assistant/nat"
	"github.com/orbit-app/orbit/internal/assistant/openrouter"
	"github.com/orbit-app/orbit/internal/capture"
	"github.com/orbit-app/orbit/internal/config"
	"github.com/orbit-app/orbit/internal/dispatch"
	"github.com/orbit-app/orbit/internal/health"
	"github.com/orbit-app/orbit/internal/llm"
	"github.com/orbit-app/orbit/internal/memory"
	"github.com/orbit-app/orbit/internal/stream"
	"github.com/orbit-app/orbit/internal/tools"
	"github.com/orbit-app/orbit/internal/transport"
	grpctransport "github.com/orbit-app/orbit/internal/transport/grpc"
	httptransport "github.com/orbit-app/orbit/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/orbit.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orbit %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("orbit starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("orbit stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("orbit stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	connector := ableton.NewConnector(ableton.Config{
		Host:         cfg.Ableton.Host,
		Port:         cfg.Ableton.Port,
		LocalPort:    cfg.Ableton.LocalPort,
		ReadTimeout:  cfg.Ableton.ReadTimeout,
		QueryTimeout: cfg.Ableton.QueryTimeout,
	})
	defer connector.Disconnect()

	if cfg.Ableton.AutoConnect {
		if err := connector.Connect(ctx); err != nil {
			slog.Warn("could not connect to Ableton Live at startup", "error", err)
		}
	}

	store, closeStore := newMemory(ctx, cfg.Memory)
	defer closeStore()

	registry := tools.NewRegistry(tools.Ableton(connector)...)
	if cfg.Capture.Enabled {
		registry.Register(tools.Screenshot(&capture.Exec{
			ScreenshotCommand: cfg.Capture.ScreenshotCommand,
			OCRCommand:        cfg.Capture.OCRCommand,
			Dir:               cfg.Capture.Dir,
			Keep:              cfg.Capture.Keep,
		}))
	}

	asst, err := newAssistant(cfg.Assistant, registry, store)
	if err != nil {
		return err
	}
	defer asst.Close()
	slog.Info("using assistant backend", "backend", asst.Name(), "tools", registry.Len())

	dispatcher := dispatch.New(asst, connector, dispatch.WithMemory(store))

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port))
	}

	healthServer := health.New(cfg.Server.HealthPort)
	healthServer.Register("ableton", func(context.Context) string {
		return connector.State().String()
	})
	if hc, ok := asst.(interface{ HealthCheck(context.Context) error }); ok {
		healthServer.Register("assistant", func(ctx context.Context) string {
			if err := hc.HealthCheck(ctx); err != nil {
				return err.Error()
			}
			return "ok"
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.ListenAndServe(gctx) })
	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx, dispatcher); err != nil {
				return fmt.Errorf("transport %s: %w", t.Name(), err)
			}
			return nil
		})
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("orbit ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal or a transport failure.
	<-gctx.Done()
	slog.Info("shutting down, draining...")
	healthServer.SetReady(false)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newAssistant(cfg config.AssistantConfig, registry *tools.Registry, store memory.Store) (assistant.Assistant, error) {
	system := assistant.SystemPrompt
	if cfg.SystemPrompt != "" {
		system = cfg.SystemPrompt
	}

	switch cfg.Backend {
	case "openrouter":
		client := llm.NewClient(llm.Options{
			BaseURL: cfg.OpenRouter.BaseURL,
			APIKey:  cfg.OpenRouter.APIKey,
			Timeout: cfg.OpenRouter.Timeout,
			Referer: cfg.OpenRouter.Referer,
			Title:   cfg.OpenRouter.Title,
		})
		candidates := openrouter.DefaultCandidates
		if len(cfg.OpenRouter.Models) > 0 {
			candidates = make([]openrouter.Candidate, len(cfg.OpenRouter.Models))
			for i, m := range cfg.OpenRouter.Models {
				candidates[i] = openrouter.Candidate{ID: m.ID, Vision: m.Vision}
			}
		}
		opts := []openrouter.Option{
			openrouter.WithTools(registry),
			openrouter.WithSystemPrompt(system),
			openrouter.WithMaxToolSteps(cfg.MaxToolSteps),
			openrouter.WithMaxTokens(cfg.MaxTokens),
		}
		if store != nil {
			opts = append(opts, openrouter.WithMemory(store))
		}
		slog.Info("using OpenRouter assistant", "models", len(candidates), "first", candidates[0].ID)
		return openrouter.New(client, candidates, opts...)

	case "nat":
		slog.Info("using agent server assistant", "base_url", cfg.NAT.BaseURL)
		return nat.New(nat.Config{
			BaseURL: cfg.NAT.BaseURL,
			Timeout: cfg.NAT.Timeout,
			User:    stream.User{Name: cfg.NAT.UserName, Email: cfg.NAT.UserEmail},
		})

	case "embedded":
		slog.Info("using embedded assistant", "command", cfg.Embedded.Command[0])
		handle := embedded.NewHandle(embedded.ProcessFactory(embedded.ProcessConfig{
			Command: cfg.Embedded.Command,
			Dir:     cfg.Embedded.Dir,
			Env:     cfg.Embedded.Env,
		}))
		return embedded.New(handle, system), nil

	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}

// newMemory returns the configured history store, or nil when history is
// disabled.
func newMemory(ctx context.Context, cfg config.MemoryConfig) (memory.Store, func()) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, history will fail until it is", "addr", cfg.Redis.Addr, "error", err)
		}
		return memory.NewRedis(rdb, cfg.Redis.TTL, cfg.MaxTurns), func() { _ = rdb.Close() }
	case "memory":
		return memory.NewInMemory(cfg.MaxTurns), func() {}
	default:
		return nil, func() {}
	}
}
