// Command sovereignd runs the sovereign liquidity daemon. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
//
// "sovereignd encrypt-key -out FILE" seals the authority key found in
// SOVEREIGN_AUTHORITY_PRIVATE_KEY with SOVEREIGN_AUTHORITY_KEY_PASSWORD, for
// use as authority.encrypted_key_path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/sovereign-liquidity/internal/app"
	"github.com/alanyoungcy/sovereign-liquidity/internal/config"
	"github.com/alanyoungcy/sovereign-liquidity/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		if err := encryptKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("sovereign daemon starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("effective", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("sovereign daemon stopped")
}

// newLogger builds the JSON logger at the named level. Unknown levels fall
// back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "authority.key.json", "where to write the sealed key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("SOVEREIGN_AUTHORITY_PRIVATE_KEY")
	password := os.Getenv("SOVEREIGN_AUTHORITY_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("SOVEREIGN_AUTHORITY_PRIVATE_KEY and SOVEREIGN_AUTHORITY_KEY_PASSWORD must be set")
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	sealed, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())
	return nil
}
