package model

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Config is the subset of a Hugging Face config.json the reference runtime needs.
type Config struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures,omitempty"`

	HiddenSize       int     `json:"hidden_size"`
	IntermediateSize int     `json:"intermediate_size"`
	NumHiddenLayers  int     `json:"num_hidden_layers"`
	VocabSize        int     `json:"vocab_size"`
	RMSNormEps       float64 `json:"rms_norm_eps"`

	TieWordEmbeddings bool `json:"tie_word_embeddings"`
	AttentionBias     bool `json:"attention_bias"`
	MLPBias           bool `json:"mlp_bias"`

	BOSTokenID int `json:"bos_token_id"`
	EOSTokenID int `json:"eos_token_id"`
}

const defaultNormEps = 1e-5

func ReadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := mergeTextConfig(&cfg, raw); err != nil {
		return Config{}, err
	}
	if cfg.RMSNormEps == 0 {
		cfg.RMSNormEps = defaultNormEps
	}
	return cfg, nil
}

// mergeTextConfig fills missing sizes from a nested text_config object, as
// multimodal checkpoints place the language model parameters there.
func mergeTextConfig(dst *Config, raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return err
	}
	textRaw, ok := top["text_config"]
	if !ok || len(textRaw) == 0 {
		return nil
	}
	var text Config
	if err := json.Unmarshal(textRaw, &text); err != nil {
		return fmt.Errorf("parse text_config: %w", err)
	}
	if dst.HiddenSize == 0 {
		dst.HiddenSize = text.HiddenSize
	}
	if dst.IntermediateSize == 0 {
		dst.IntermediateSize = text.IntermediateSize
	}
	if dst.NumHiddenLayers == 0 {
		dst.NumHiddenLayers = text.NumHiddenLayers
	}
	if dst.VocabSize == 0 {
		dst.VocabSize = text.VocabSize
	}
	if dst.RMSNormEps == 0 {
		dst.RMSNormEps = text.RMSNormEps
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	case c.IntermediateSize <= 0:
		return fmt.Errorf("intermediate_size must be positive, got %d", c.IntermediateSize)
	case c.NumHiddenLayers <= 0:
		return fmt.Errorf("num_hidden_layers must be positive, got %d", c.NumHiddenLayers)
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	return nil
}

func writeConfig(path string, cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
