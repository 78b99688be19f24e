// Package main provides the entry point for the Gemini key-pool proxy.
// The server multiplexes local client applications onto a pool of upstream
// Gemini API keys, rotating between them and retiring keys the upstream
// rejects, while persisting a complete request audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/keypool-dev/geminipool/internal/api"
	"github.com/keypool-dev/geminipool/internal/audit"
	"github.com/keypool-dev/geminipool/internal/buildinfo"
	"github.com/keypool-dev/geminipool/internal/config"
	"github.com/keypool-dev/geminipool/internal/keypool"
	"github.com/keypool-dev/geminipool/internal/logging"
	"github.com/keypool-dev/geminipool/internal/proxy"
	"github.com/keypool-dev/geminipool/internal/retention"
	"github.com/keypool-dev/geminipool/internal/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// shutdownGrace bounds how long in-flight requests may drain on shutdown.
const shutdownGrace = 10 * time.Second

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("GeminiPool Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.Parse()

	// Optional .env beside the binary; absence is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	if err = run(cfg, configPath); err != nil && err != context.Canceled {
		log.Fatalf("server exited: %v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err = s.Migrate(ctx); err != nil {
		return err
	}

	auditLog := audit.NewLogger(s, cfg.ResponseBodyLimit)
	rotator := keypool.NewRotator(s)
	forwarder := proxy.NewForwarder(s, rotator, auditLog)
	server := api.New(cfg, s, forwarder, auditLog)

	stopRetention := retention.Start(s, cfg.LogRetentionDays)
	defer stopRetention()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Infof("gemini proxy listening on http://%s", cfg.Addr())
		return server.Run(cfg.Addr())
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		// Hot-reload only touches logging; the listen address and database
		// stay fixed for the process lifetime.
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			if errLog := logging.ConfigureLogOutput(next); errLog != nil {
				log.Warnf("failed to apply reloaded logging settings: %v", errLog)
			}
		})
		if err == context.Canceled {
			return nil
		}
		return err
	})

	return group.Wait()
}
