package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/llamacore/internal/logger"
	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/internal/tensor"
	"github.com/urfave/cli/v3"
)

type forwardResult struct {
	Token  int         `json:"token"`
	Pos    int         `json:"pos"`
	Argmax int         `json:"argmax"`
	Top    []candidate `json:"top,omitempty"`
	Logits []float32   `json:"logits,omitempty"`
}

func forwardCmd() *cli.Command {
	var (
		token   int
		prefix  string
		top     int
		noLogit bool
	)

	return &cli.Command{
		Name:  "forward",
		Usage: "Run one forward step and print the logits as JSON",
		Flags: append(commonModelFlags(),
			&cli.IntFlag{
				Name:        "token",
				Usage:       "token id to run",
				Required:    true,
				Destination: &token,
			},
			&cli.StringFlag{
				Name:        "prefix",
				Usage:       "comma separated token ids run at positions 0.. before --token",
				Destination: &prefix,
			},
			&cli.IntFlag{
				Name:        "top",
				Usage:       "also list the n most likely next tokens",
				Destination: &top,
			},
			&cli.BoolFlag{
				Name:        "no-logits",
				Usage:       "omit the full logits vector",
				Destination: &noLogit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			path, err := resolveModelPath(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ids, err := parseTokenList(prefix)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --prefix: %v", err), 1)
			}

			e, err := model.Open(path, engineOptions(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer e.Close()

			res, err := runForward(e, ids, token, top, !noLogit)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return writeJSON(stdout, res)
		},
	}
}

// runForward replays prefix at positions 0..len(prefix)-1 and then runs
// token at the next position.
func runForward(m model.Model, prefix []int, token, top int, withLogits bool) (forwardResult, error) {
	for pos, id := range prefix {
		if _, err := m.Forward(id, pos); err != nil {
			return forwardResult{}, fmt.Errorf("prefix pos %d: %w", pos, err)
		}
	}
	pos := len(prefix)
	logits, err := m.Forward(token, pos)
	if err != nil {
		return forwardResult{}, err
	}
	res := forwardResult{Token: token, Pos: pos, Argmax: tensor.ArgMax(logits)}
	if top > 0 {
		res.Top = topCandidates(logits, top)
	}
	if withLogits {
		res.Logits = append([]float32(nil), logits...)
	}
	return res, nil
}

