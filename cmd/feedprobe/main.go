// feedprobe connects to a streaming endpoint and prints inbound
// messages to the console, reconnecting automatically when the
// connection is lost.
//
// Usage: go run ./cmd/feedprobe --config configs/feedprobe.yaml
// or:    go run ./cmd/feedprobe --url wss://stream.example.com/v1/feed
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mwhitt/feedlink/internal/config"
	"github.com/mwhitt/feedlink/internal/connection"
	"github.com/mwhitt/feedlink/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	url := flag.String("url", "", "websocket address (overrides config)")
	verbose := flag.Bool("verbose", false, "log at debug level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("feedprobe", version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := loadConfig(*configPath, *url)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr := connection.NewManager(cfg.Connection.ManagerConfig(), logger)

	mgr.OnStateChanged(func(s connection.State) {
		logger.Info("connection state changed", "state", s)
	})
	mgr.OnReconnected(func(attempt int) {
		logger.Info("connection re-established", "attempt", attempt)
	})

	configure := buildConfigure(cfg.Probe.AuthToken)

	if err := mgr.Connect(ctx, cfg.Probe.URL, configure); err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	handler := func(data []byte) {
		fmt.Printf("[MSG] %s\n", data)
	}

	if err := mgr.StartReceiveLoop(ctx, handler); err != nil {
		logger.Error("failed to start receive loop", "error", err)
		os.Exit(1)
	}

	// Lost-connection signals feed a channel so reconnection runs on its
	// own goroutine, deduplicated by the manager's gate.
	lost := make(chan struct{}, 1)
	mgr.OnConnectionLost(func() {
		select {
		case lost <- struct{}{}:
		default:
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-lost:
				ok := mgr.TryReconnect(gctx, cfg.Probe.URL, configure, func() {
					// Fresh socket needs a fresh receive loop.
					if err := mgr.StartReceiveLoop(gctx, handler); err != nil {
						logger.Error("failed to restart receive loop", "error", err)
					}
				})
				if !ok && gctx.Err() == nil {
					logger.Error("reconnect failed, exiting")
					cancel()
					return fmt.Errorf("reconnect exhausted")
				}
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("status", "state", mgr.State())
			}
		}
	})

	logger.Info("streaming started - press Ctrl+C to stop", "url", cfg.Probe.URL)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := mgr.Disconnect(shutdownCtx); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	g.Wait()

	logger.Info("shutdown complete")
}

// loadConfig loads the YAML config when given, then applies the URL
// override. Without a config file, defaults plus the URL flag suffice.
func loadConfig(path, url string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if url != "" {
		cfg.Probe.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildConfigure(token string) connection.ConfigureFunc {
	if token == "" {
		return nil
	}
	return func(d *websocket.Dialer, h http.Header) {
		h.Set("Authorization", "Bearer "+token)
	}
}
