package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/samcharles93/llamacore/pkg/ckpt"
	"github.com/urfave/cli/v3"
)

func synthCmd() *cli.Command {
	var (
		out    string
		cfg    ckpt.Config
		unique bool
		seed   int64
		scale  float64
	)

	return &cli.Command{
		Name:  "synth",
		Usage: "Write a checkpoint with reproducible random weights",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path", Required: true, Destination: &out},
			&cli.IntFlag{Name: "dim", Value: 64, Destination: &cfg.Dim},
			&cli.IntFlag{Name: "hidden-dim", Value: 172, Destination: &cfg.HiddenDim},
			&cli.IntFlag{Name: "layers", Value: 2, Destination: &cfg.NumLayers},
			&cli.IntFlag{Name: "heads", Value: 4, Destination: &cfg.NumHeads},
			&cli.IntFlag{Name: "kv-heads", Value: 4, Destination: &cfg.NumKVHeads},
			&cli.IntFlag{Name: "vocab", Value: 512, Destination: &cfg.VocabSize},
			&cli.IntFlag{Name: "seq-len", Value: 128, Destination: &cfg.SeqLen},
			&cli.BoolFlag{Name: "unshared", Usage: "write a separate classifier matrix", Destination: &unique},
			&cli.Int64Flag{Name: "seed", Value: 1, Destination: &seed},
			&cli.Float64Flag{Name: "scale", Usage: "weight range", Value: 0.2, Destination: &scale},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg.SharedClassifier = !unique
			if err := writeSynth(out, cfg, seed, float32(scale)); err != nil {
				return cli.Exit(fmt.Sprintf("error: synth: %v", err), 1)
			}
			layout, _ := ckpt.ComputeLayout(cfg)
			log.Info("checkpoint written", "path", out, "bytes", layout.Bytes())
			return nil
		},
	}
}

// writeSynth writes a checkpoint whose norm weights are near one and whose
// matrices are uniform in (-scale/2, scale/2).
func writeSynth(path string, cfg ckpt.Config, seed int64, scale float32) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = ckpt.Write(f, cfg, func(t ckpt.Tensor, _ []int64, dst []float32) {
		tensor.FillRand(dst, seed+int64(t), scale)
		switch t {
		case ckpt.RMSAttention, ckpt.RMSFFN, ckpt.RMSFinal:
			for i := range dst {
				dst[i] += 1
			}
		}
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}
