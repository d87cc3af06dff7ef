package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the worker configuration file
// (~/.config/lattice/worker.yaml). Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	Model     string `yaml:"model"`
	Backend   string `yaml:"backend"`
	WorldSize *int   `yaml:"world_size"`
	Transport string `yaml:"transport"`

	MaxTokens     *int     `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`
	TopP          *float64 `yaml:"top_p"`
	TopK          *int     `yaml:"top_k"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lattice", "worker.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory if present. Variables
// already in the environment are kept.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// applyConfig fills flag variables from cfg when the flag was not set on the
// command line or through the environment.
func applyConfig(c *cli.Command, cfg Config) {
	setString := func(flag string, dst *string, v string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setString("model", &modelPath, cfg.Model)
	setString("backend", &backendName, cfg.Backend)
	setString("transport", &transport, cfg.Transport)
	setString("log-level", &logLevel, cfg.LogLevel)
	setString("log-format", &logFormat, cfg.LogFormat)
	setString("addr", &listenAddr, cfg.ServerAddress)

	if cfg.WorldSize != nil && !c.IsSet("world-size") {
		worldSize = *cfg.WorldSize
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		maxTokens = *cfg.MaxTokens
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		temperature = *cfg.Temperature
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		topP = *cfg.TopP
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		topK = *cfg.TopK
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		repeatPenalty = *cfg.RepeatPenalty
	}
}
