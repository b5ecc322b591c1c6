package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/llamacore/internal/api"
	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/pkg/ckpt"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxSessions int
		rps         float64
		burst       int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve forward steps over HTTP, one engine per session",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-sessions",
				Usage:       "maximum concurrent sessions (0 = unbounded)",
				Value:       16,
				Destination: &maxSessions,
			},
			&cli.Float64Flag{
				Name:        "rps",
				Usage:       "session and forward requests per second (0 = unlimited)",
				Destination: &rps,
			},
			&cli.IntFlag{
				Name:        "burst",
				Usage:       "request burst allowed above --rps",
				Value:       8,
				Destination: &burst,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			applyServeConfig(cmd, fileConfig, &addr, &maxSessions, &rps)

			path, err := resolveModelPath(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			f, err := ckpt.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer f.Close()

			server := api.NewServer(f, api.Config{
				MaxSessions:       maxSessions,
				RequestsPerSecond: rps,
				Burst:             burst,
				Engine:            engineOptions(log),
			})
			defer server.Close()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log.Info("starting server", "address", addr, "model", path, "max_sessions", maxSessions, "mapped", f.Mapped())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
