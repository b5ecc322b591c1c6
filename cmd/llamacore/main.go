package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "llamacore",
		Usage: "Single-sequence transformer inference over llama2.c checkpoints",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			path := configFile
			if path == "" {
				path = configPath()
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				return ctx, cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
			}
			fileConfig = cfg
			applyLoggingConfig(cmd, cfg)

			level := logLevel
			if debug {
				level = "debug"
			}
			log, err := logger.Setup(os.Stderr, level, logFormat)
			if err != nil {
				return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			forwardCmd(),
			generateCmd(),
			inspectCmd(),
			benchCmd(),
			serveCmd(),
			synthCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
