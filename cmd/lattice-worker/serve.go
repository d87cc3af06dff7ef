package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lattice/internal/httpapi"
)

func serveCmd() *cli.Command {
	var readTimeout time.Duration

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the backend over HTTP",
		Flags: append(append(modelFlags(), samplingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Sources:     env("ADDR"),
				Destination: &listenAddr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, log, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			b, err := startCluster(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			httpapi.NewServer(b, log).Register(e)
			log.Info("starting server", "address", listenAddr, "backend", b.Name(), "world_size", b.Size())
			sc := echo.StartConfig{
				Address: listenAddr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
