package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/launch"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/rpc"
)

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Serve line-delimited JSON-RPC on stdin/stdout",
		Flags: append(modelFlags(), samplingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, log, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log.Info("loading model", "path", modelPath, "backend", backendName, "world_size", worldSize)

			stdin, stdout := cmd.Root().Reader, cmd.Root().Writer
			b, err := startCluster(ctx)
			if err != nil {
				log.Error("fatal: load failed", "error", err)
				if werr := rpc.WriteFatal(stdout, err); werr != nil {
					log.Error("write load failure", "error", werr)
				}
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer b.Close()
			log.Info("model loaded, ready for requests", "backend", b.Name())

			err = rpc.NewServer(b, stdout, log).Serve(ctx, stdin)
			if errors.Is(err, rpc.ErrShutdown) {
				return nil
			}
			return err
		},
	}
}

func startCluster(ctx context.Context) (*launch.Cluster, error) {
	kind, err := backend.ParseKind(backendName)
	if err != nil {
		return nil, err
	}
	return launch.Start(ctx, launch.Config{
		Kind:      kind,
		ModelPath: modelPath,
		WorldSize: worldSize,
		Transport: transport,
		Logger:    logger.FromContext(ctx),
		Defaults:  samplingDefaults(),
	})
}
