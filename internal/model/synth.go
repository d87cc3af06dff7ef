package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samcharles93/lattice/internal/safetensors"
	"github.com/samcharles93/lattice/internal/tensor"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

// Random builds a model with reproducible random weights. Norm weights are
// ones so activations keep a stable scale.
func Random(cfg Config, seed int64) (*Model, error) {
	if cfg.ModelType == "" {
		cfg.ModelType = "lattice"
	}
	if cfg.RMSNormEps == 0 {
		cfg.RMSNormEps = defaultNormEps
	}
	if cfg.BOSTokenID == 0 && cfg.EOSTokenID == 0 {
		cfg.BOSTokenID, cfg.EOSTokenID = tokenizer.ByteBOS, tokenizer.ByteEOS
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fam, err := LookupFamily(cfg.ModelType, cfg.Architectures...)
	if err != nil {
		return nil, err
	}

	d, ff, vocab := cfg.HiddenSize, cfg.IntermediateSize, cfg.VocabSize
	tensors := make(map[string]*tensor.Tensor)
	next := seed
	add := func(name string, bias bool, shape ...int) {
		w := tensor.New(shape...)
		if len(shape) == 1 {
			for i := range w.Data {
				w.Data[i] = 1
			}
		} else {
			next++
			tensor.FillRand(w, next, 2/float32(shape[1]))
		}
		tensors[name+".weight"] = w
		if bias {
			b := tensor.New(shape[0])
			next++
			tensor.FillRand(b, next, 0.1)
			tensors[name+".bias"] = b
		}
	}

	add(fam.Embed, false, vocab, d)
	// Embeddings get unit-scale entries; the 2/in scale above suits projections.
	tensor.FillRand(tensors[fam.Embed+".weight"], seed, 2)
	add(fam.Norm, false, d)
	if !cfg.TieWordEmbeddings {
		add(fam.Head, false, vocab, d)
	}
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		n := fam.Layer(i)
		add(n.AttnNorm, false, d)
		add(n.Q, cfg.AttentionBias, d, d)
		add(n.K, cfg.AttentionBias, d, d)
		add(n.V, cfg.AttentionBias, d, d)
		add(n.O, cfg.AttentionBias, d, d)
		add(n.MLPNorm, false, d)
		add(n.Gate, cfg.MLPBias, ff, d)
		add(n.Up, cfg.MLPBias, ff, d)
		add(n.Down, cfg.MLPBias, d, ff)
	}
	return Build(cfg, fam, tensors)
}

// Save writes config.json and model.safetensors into dir.
func Save(m *Model, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tensors := make(map[string]*tensor.Tensor, 2*len(m.Modules))
	for name, mod := range m.Modules {
		tensors[name+".weight"] = mod.Weight
		if mod.Bias != nil {
			tensors[name+".bias"] = mod.Bias
		}
	}
	if err := safetensors.Write(filepath.Join(dir, "model.safetensors"), tensors, map[string]string{"format": "pt"}); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return writeConfig(filepath.Join(dir, configFile), m.Config)
}
