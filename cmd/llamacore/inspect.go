package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samcharles93/llamacore/internal/model"
	"github.com/samcharles93/llamacore/pkg/ckpt"
	"github.com/urfave/cli/v3"
)

type inspectReport struct {
	Path       string        `json:"path"`
	Config     ckpt.Config   `json:"config"`
	HeadSize   int           `json:"head_size"`
	KVDim      int           `json:"kv_dim"`
	KVMul      int           `json:"kv_mul"`
	Mapped     bool          `json:"mapped"`
	WeightSize int64         `json:"weight_bytes"`
	Trailing   int64         `json:"trailing_bytes"`
	StateBytes int64         `json:"state_bytes"`
	Extents    []ckpt.Extent `json:"extents"`
}

func inspectCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a checkpoint's header, derived sizes and tensor layout",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			path, err := resolveModelPath(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			f, err := ckpt.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer f.Close()

			rep, err := buildInspectReport(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if asJSON {
				return writeJSON(stdout, rep)
			}
			return printInspectReport(stdout, rep)
		},
	}
}

func buildInspectReport(f *ckpt.File) (inspectReport, error) {
	cfg := f.Config()
	layout := f.Layout()
	// Allocating the state is the only exact way to size it; it is released
	// right after.
	st, err := model.NewRunState(cfg, maxStateBytes)
	if err != nil {
		return inspectReport{}, err
	}
	return inspectReport{
		Path:       f.Path(),
		Config:     cfg,
		HeadSize:   cfg.HeadSize(),
		KVDim:      cfg.KVDim(),
		KVMul:      cfg.KVMul(),
		Mapped:     f.Mapped(),
		WeightSize: layout.Bytes() - ckpt.HeaderSize,
		Trailing:   f.Trailing(),
		StateBytes: st.Bytes(),
		Extents:    layout.Extents,
	}, nil
}

func printInspectReport(w io.Writer, r inspectReport) error {
	c := r.Config
	fmt.Fprintf(w, "checkpoint: %s\n", r.Path)
	fmt.Fprintf(w, "dim=%d hidden_dim=%d layers=%d heads=%d kv_heads=%d vocab=%d seq_len=%d\n",
		c.Dim, c.HiddenDim, c.NumLayers, c.NumHeads, c.NumKVHeads, c.VocabSize, c.SeqLen)
	fmt.Fprintf(w, "head_size=%d kv_dim=%d kv_mul=%d shared_classifier=%t\n",
		r.HeadSize, r.KVDim, r.KVMul, c.SharedClassifier)
	fmt.Fprintf(w, "weights=%s trailing=%dB mapped=%t run_state=%s\n\n",
		humanBytes(r.WeightSize), r.Trailing, r.Mapped, humanBytes(r.StateBytes))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENSOR\tOFFSET\tELEMENTS\tSHAPE\tNOTE")
	for _, e := range r.Extents {
		note := ""
		if e.Tensor.Legacy() {
			note = "skipped"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%s\n", e.Tensor, e.Offset, e.Len, e.Shape, note)
	}
	if c.SharedClassifier {
		fmt.Fprintf(tw, "%s\t-\t-\t-\taliases %s\n", ckpt.WCLS, ckpt.TokenEmbedding)
	}
	return tw.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
