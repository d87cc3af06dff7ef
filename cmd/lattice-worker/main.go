package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/logger"
)

func main() {
	if err := loadDotEnv(".env"); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "lattice-worker",
		Usage: "Distributed inference worker",
		Flags: globalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			workerCmd(),
			serveCmd(),
			planCmd(),
			synthCmd(),
			versionCmd(),
		},
	}
}

// setup applies the config file and installs the logger. Logs always go to
// stderr; stdout belongs to the protocol.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, logger.Logger, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, nil, fmt.Errorf("config: %w", err)
	}
	applyConfig(cmd, cfg)
	log, err := logger.Open(logFormat, os.Stderr, logger.ParseLevel(logLevel))
	if err != nil {
		return ctx, nil, err
	}
	return logger.WithContext(ctx, log), log, nil
}

func samplingDefaults() backend.Defaults {
	return backend.Defaults{
		Temperature:   temperature,
		TopP:          topP,
		TopK:          topK,
		RepeatPenalty: repeatPenalty,
		MaxTokens:     maxTokens,
	}
}
