package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rantala/tiny-pop3-server/auth"
	"github.com/rantala/tiny-pop3-server/config"
	"github.com/rantala/tiny-pop3-server/logger"
	"github.com/rantala/tiny-pop3-server/mailbox"
	"github.com/rantala/tiny-pop3-server/pkg/metrics"
	serverPkg "github.com/rantala/tiny-pop3-server/server"
	"github.com/rantala/tiny-pop3-server/server/adminapi"
	"github.com/rantala/tiny-pop3-server/server/pop3"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// traceBacklog is how many protocol lines the in-memory trace retains for
// the admin API.
const traceBacklog = 10000

func main() {
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tiny-pop3-server version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadAndValidateConfig(*configPath, &cfg)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("tiny-pop3-server starting", "version", version, "commit", commit, "built", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	store := mailbox.New()
	store.Subscribe(func() {
		metrics.MailboxMessages.Set(float64(store.Count()))
	})

	checker := auth.NewChecker(cfg.Auth.Username, cfg.Auth.Password)
	trace := serverPkg.NewTraceLog(traceBacklog)

	pop3Server, err := pop3.New(ctx, &cfg.POP3, store, checker, trace)
	if err != nil {
		logger.Fatal("Failed to create POP3 server", "error", err)
	}

	errChan := make(chan error, 2)
	go pop3Server.Start(errChan)

	if cfg.Admin.Start {
		adminServer := adminapi.New(&cfg.Admin, store, trace)
		go adminServer.Start(ctx, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("Waiting for servers to stop gracefully")
		done := make(chan struct{})
		go func() {
			pop3Server.Close()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("All listeners closed")
		case <-time.After(10 * time.Second):
			logger.Warn("Server shutdown timeout reached")
		}
	case err := <-errChan:
		logger.Fatal("Server failed", "error", err)
	}
}

// loadAndValidateConfig loads the TOML configuration and validates it. A
// missing default config file is fine; an explicitly named one must exist.
func loadAndValidateConfig(configPath string, cfg *config.Config) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) {
			if configPath == "config.toml" {
				fmt.Fprintf(os.Stderr, "WARNING: default configuration file '%s' not found. Using application defaults.\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "ERROR: configuration file '%s' not found\n", configPath)
				os.Exit(1)
			}
		} else {
			fmt.Fprintf(os.Stderr, "ERROR: loading configuration: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: invalid configuration: %v\n", err)
		os.Exit(1)
	}
}
