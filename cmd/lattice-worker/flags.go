package main

import "github.com/urfave/cli/v3"

const envPrefix = "LATTICE_"

var (
	modelPath     string
	backendName   string
	worldSize     int
	transport     string
	maxTokens     int
	temperature   float64
	topP          float64
	topK          int
	repeatPenalty float64
	logLevel      string
	logFormat     string
	configFile    string
	listenAddr    string
)

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to model directory (config.json + .safetensors)",
			Sources:     env("MODEL"),
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "backend (single, tensor_parallel, pipeline)",
			Value:       "single",
			Sources:     env("BACKEND"),
			Destination: &backendName,
		},
		&cli.IntFlag{
			Name:        "world-size",
			Aliases:     []string{"n"},
			Usage:       "number of ranks hosted by this process",
			Value:       1,
			Sources:     env("WORLD_SIZE"),
			Destination: &worldSize,
		},
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "rank transport (single, local); empty picks by world size",
			Sources:     env("TRANSPORT"),
			Destination: &transport,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "upper bound on tokens per request (0 = no cap)",
			Sources:     env("MAX_TOKENS"),
			Destination: &maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp"},
			Usage:       "default sampling temperature (0 = greedy)",
			Sources:     env("TEMPERATURE"),
			Destination: &temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "default nucleus sampling mass",
			Value:       1,
			Sources:     env("TOP_P"),
			Destination: &topP,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "default top-k (0 = whole vocabulary)",
			Sources:     env("TOP_K"),
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "default repetition penalty",
			Value:       1,
			Sources:     env("REPEAT_PENALTY"),
			Destination: &repeatPenalty,
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     env("LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "text",
			Sources:     env("LOG_FORMAT"),
			Destination: &logFormat,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to worker.yaml",
			Sources:     env("CONFIG"),
			Destination: &configFile,
		},
	}
}
