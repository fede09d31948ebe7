// Command parley is a console client for full-duplex realtime voice sessions.
// It connects the default microphone and speakers to a realtime model, prints
// status changes and transcripts, and disconnects on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/credentials"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	identity := flag.String("identity", "", "user identity sent to the credential backend (overrides config)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	if *identity != "" {
		cfg.Credentials.Identity = *identity
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(newLogger(cfg.LogFormat, &level))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"model", cfg.Realtime.Model,
		"identity", cfg.Credentials.Identity,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	opener := portaudio.NewOpener(
		portaudio.WithFrameSize(cfg.Audio.FrameSize),
		portaudio.WithOutputBuffer(cfg.Audio.OutputBuffer),
		portaudio.WithGain(float32(cfg.Audio.Volume())),
	)
	ctrl, con, err := buildController(cfg, opener, provider.Metrics())
	if err != nil {
		slog.Error("failed to build session", "err", err)
		return 1
	}

	// Hot reload applies to the log level and playback volume only.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PlaybackVolumeChanged {
			opener.SetGain(float32(d.NewPlaybackVolume))
			slog.Info("playback volume changed", "volume", d.NewPlaybackVolume)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// ── Ops server (optional) ─────────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		health.New(health.SessionChecker(ctrl)).Register(mux)
		mux.Handle("GET /metrics", provider.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(provider.Metrics())(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		if err := ctrl.Connect(gctx, cfg.Credentials.Identity); err != nil {
			return err
		}
		slog.Info("session ready, press Ctrl+C to hang up")
		defer ctrl.Disconnect()

		select {
		case <-gctx.Done():
			return nil
		case err := <-con.failed:
			return err
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("parley stopped", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildController wires the credential broker, the WebSocket dialer and the
// audio opener into a session controller reporting to the console.
func buildController(cfg *config.Config, opener *portaudio.Opener, metrics *observe.Metrics) (*session.Controller, *console, error) {
	cc := cfg.Credentials
	broker, err := credentials.NewBroker(cc.URLs(),
		credentials.WithHTTPClient(&http.Client{Timeout: cc.Timeout}),
		credentials.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "credentials",
			MaxFailures:  cc.Breaker.MaxFailures,
			ResetTimeout: cc.Breaker.ResetTimeout,
			HalfOpenMax:  cc.Breaker.HalfOpenMax,
			OnStateChange: func(endpoint string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), endpoint, to.String())
			},
		}),
	)
	if err != nil {
		return nil, nil, err
	}

	endpoint, err := transport.Endpoint(cfg.Realtime.URL, cfg.Realtime.Model)
	if err != nil {
		return nil, nil, err
	}

	con := newConsole(os.Stdout)
	ctrl, err := session.New(session.Config{
		Endpoint:     endpoint,
		Model:        cfg.Realtime.Model,
		Voice:        cfg.Realtime.Voice,
		Instructions: cfg.Realtime.Instructions,
		Session:      cfg.Realtime.SessionConfig(),
		SampleRate:   cfg.Audio.SampleRate,
		DeviceRate:   cfg.Audio.DeviceRate,
		FrameSize:    cfg.Audio.FrameSize,
		Cooldown:     cfg.Turn.Cooldown,
		SettleDelay:  cfg.Turn.SettleDelay,
	},
		session.WithOpener(opener),
		session.WithIssuer(broker),
		session.WithDialer(transport.NewWebSocketDialer()),
		session.WithMetrics(metrics),
		session.WithListener(con),
	)
	if err != nil {
		return nil, nil, err
	}
	return ctrl, con, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
