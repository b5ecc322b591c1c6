package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

type streamResult struct {
	Stream   int           `json:"stream"`
	Steps    int           `json:"steps"`
	Duration time.Duration `json:"duration"`
	TPS      float64       `json:"tokens_per_second"`
}

type benchReport struct {
	Streams  []streamResult `json:"streams"`
	Steps    int            `json:"total_steps"`
	Duration time.Duration  `json:"duration"`
	TPS      float64        `json:"tokens_per_second"`
}

func benchCmd() *cli.Command {
	var (
		streams int
		steps   int64
		asJSON  bool
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run independent greedy streams over one shared mapping and report throughput",
		Flags: append(commonModelFlags(),
			&cli.IntFlag{
				Name:        "streams",
				Usage:       "number of concurrent engines",
				Value:       1,
				Destination: &streams,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "forward steps per stream (capped at seq_len)",
				Value:       128,
				Destination: &steps,
			},
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			path, err := resolveModelPath(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if streams < 1 {
				return cli.Exit("error: --streams must be at least 1", 1)
			}
			f, err := ckpt.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer f.Close()

			log.Info("benchmarking", "path", path, "streams", streams, "steps", steps, "mapped", f.Mapped())
			rep, err := runBench(ctx, f, engineOptions(log), streams, int(steps))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: bench: %v", err), 1)
			}
			if asJSON {
				return writeJSON(stdout, rep)
			}
			for _, s := range rep.Streams {
				fmt.Fprintf(stdout, "stream %d: %d steps in %s (%.2f tok/s)\n", s.Stream, s.Steps, s.Duration.Round(time.Millisecond), s.TPS)
			}
			fmt.Fprintf(stdout, "total: %d steps in %s (%.2f tok/s)\n", rep.Steps, rep.Duration.Round(time.Millisecond), rep.TPS)
			return nil
		},
	}
}

// runBench drives one engine per stream over f. Every stream starts from a
// different token and feeds back its own argmax.
func runBench(ctx context.Context, f *ckpt.File, opts model.Options, streams, steps int) (benchReport, error) {
	cfg := f.Config()
	steps = min(steps, cfg.SeqLen)

	engines := make([]*model.Engine, streams)
	defer func() {
		for _, e := range engines {
			if e != nil {
				_ = e.Close()
			}
		}
	}()
	for i := range engines {
		e, err := model.New(f, opts)
		if err != nil {
			return benchReport{}, fmt.Errorf("stream %d: %w", i, err)
		}
		engines[i] = e
	}

	results := make([]streamResult, streams)
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i, e := range engines {
		g.Go(func() error {
			token := i % cfg.VocabSize
			t0 := time.Now()
			for pos := range steps {
				if err := ctx.Err(); err != nil {
					return err
				}
				logits, err := e.Forward(token, pos)
				if err != nil {
					return fmt.Errorf("stream %d pos %d: %w", i, pos, err)
				}
				token = tensor.ArgMax(logits)
			}
			d := time.Since(t0)
			results[i] = streamResult{Stream: i, Steps: steps, Duration: d, TPS: rate(steps, d)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchReport{}, err
	}
	total := time.Since(start)
	return benchReport{
		Streams:  results,
		Steps:    steps * streams,
		Duration: total,
		TPS:      rate(steps*streams, total),
	}, nil
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
