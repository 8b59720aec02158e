// Command bagrabridge runs the deposit-credit and order-to-mint bridge. It
// loads and validates configuration, sets up signal handling and starts the
// application in the configured mode.
//
// "bagrabridge encrypt-key -out owner.json" seals the key in
// BRIDGE_SIGNER_PRIVATE_KEY under BRIDGE_SIGNER_KEY_PASSWORD for use as
// signer.encrypted_key_path.
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

	"github.com/alanyoungcy/bagrabridge/internal/app"
	"github.com/alanyoungcy/bagrabridge/internal/config"
	"github.com/alanyoungcy/bagrabridge/internal/crypto"
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

	logger.Info("bridge starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("bridge stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "owner-key.json", "where to write the encrypted key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("BRIDGE_SIGNER_PRIVATE_KEY")
	password := os.Getenv("BRIDGE_SIGNER_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("BRIDGE_SIGNER_PRIVATE_KEY and BRIDGE_SIGNER_KEY_PASSWORD must be set")
	}

	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return err
	}
	addr, err := crypto.KeyFileAddress(blob)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, addr.Hex())
	return nil
}
