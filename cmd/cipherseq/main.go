// Command cipherseq runs an encrypted transaction ordering coordinator.
//
// Usage:
//
//	cipherseq [flags]
//
// Flags:
//
//	--config     Path to a coordinator configuration file
//	--verbosity  Log level: debug, info, warn, error (default: info)
//	--version    Print version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cipherseq/cipherseq/log"
	"github.com/cipherseq/cipherseq/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("cipherseq", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a coordinator configuration file")
	verbosity := fs.String("verbosity", "info", "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("cipherseq %s (commit %s)\n", version, commit)
		return 0
	}

	logger := log.NewWithHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(*verbosity),
	}))
	log.SetDefault(logger)

	cfg := node.DefaultConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Error("cannot read config file", "path", *configPath, "err", err)
			return 1
		}
		cfg, err = node.LoadConfig(raw)
		if err != nil {
			logger.Error("invalid configuration", "path", *configPath, "err", err)
			return 1
		}
	}

	coordinator, err := node.NewCoordinator(cfg, logger)
	if err != nil {
		logger.Error("cannot build coordinator", "err", err)
		return 1
	}

	logger.Info("coordinator ready",
		"version", version,
		"admin", cfg.Admin.Hex(),
		"vault", cfg.Vault.Hex(),
		"threshold", cfg.Ceremony.Threshold,
		"min_stake", cfg.Registry.MinStake,
		"active_keypers", coordinator.Registry().ActiveCount(),
	)

	// Wait for SIGINT or SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	return 0
}

func logLevel(verbosity string) slog.Level {
	switch verbosity {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
