package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samcharles93/llamacore/internal/inference"
	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/model"
	"github.com/urfave/cli/v3"
)

type generateResult struct {
	Tokens []int           `json:"tokens"`
	Stats  inference.Stats `json:"stats"`
}

func generateCmd() *cli.Command {
	var (
		prompt   string
		stop     string
		steps    int64
		asJSON   bool
		sampling samplingOptions
	)

	flags := append(commonModelFlags(), samplingFlags(&sampling)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "comma separated prompt token ids",
			Required:    true,
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of tokens to generate (stops early at seq_len)",
			Value:       256,
			Destination: &steps,
		},
		&cli.StringFlag{
			Name:        "stop",
			Usage:       "comma separated token ids that end generation",
			Destination: &stop,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the token sequence and stats as JSON instead of streaming",
			Destination: &asJSON,
		},
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Sample a continuation of a token id prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig, &sampling, &steps)

			path, err := resolveModelPath(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ids, err := parseTokenList(prompt)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --prompt: %v", err), 1)
			}
			stopIDs, err := parseTokenList(stop)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --stop: %v", err), 1)
			}

			e, err := model.Open(path, engineOptions(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer e.Close()

			ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			g := &inference.Generator{
				Model:      e,
				Sampler:    newSampler(sampling),
				StopTokens: stopIDs,
				Logger:     log,
			}
			var emit func(int)
			if !asJSON {
				emit = func(id int) { fmt.Fprintf(stdout, "%d ", id) }
			}
			toks, stats, err := g.Run(ctx, ids, int(steps), emit)
			if !asJSON {
				fmt.Fprintln(stdout)
			}
			if err != nil && ctx.Err() == nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}
			log.Info("generation finished",
				"prompt_tokens", stats.PromptTokens,
				"generated", stats.TokensGenerated,
				"prefill", stats.PrefillDuration,
				"duration", stats.Duration,
				"tok_per_s", fmt.Sprintf("%.2f", stats.TPS),
			)
			if asJSON {
				return writeJSON(stdout, generateResult{Tokens: toks, Stats: stats})
			}
			return nil
		},
	}
}
