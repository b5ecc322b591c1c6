package main

import "github.com/urfave/cli/v3"

const envModel = "LLAMACORE_MODEL"

var (
	modelPath     string
	workers       int
	maxStateBytes int64
	configFile    string
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a llama2.c checkpoint (.bin)",
			Sources:     cli.EnvVars(envModel),
			Destination: &modelPath,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "worker goroutines per engine (0 = GOMAXPROCS shared pool, -1 = single-threaded)",
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "max-state-bytes",
			Usage:       "refuse run states larger than this many bytes (0 = no limit)",
			Destination: &maxStateBytes,
		},
	}
}

type samplingOptions struct {
	temperature   float64
	topK          int64
	topP          float64
	repeatPenalty float64
	seed          int64
}

func samplingFlags(o *samplingOptions) []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       1.0,
			Destination: &o.temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "keep the k most likely tokens",
			Value:       40,
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold",
			Value:       0.9,
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "penalty for recently generated tokens (1 = off)",
			Value:       1.0,
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed (0 = time based)",
			Destination: &o.seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
	}
}
