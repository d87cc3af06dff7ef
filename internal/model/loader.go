package model

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/lattice/internal/safetensors"
	"github.com/samcharles93/lattice/internal/tensor"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

const configFile = "config.json"

// Load reads a model directory holding config.json and one or more
// .safetensors shards. The byte-level tokenizer is returned alongside.
func Load(path string) (*Model, tokenizer.Tokenizer, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if !st.IsDir() {
		return nil, nil, fmt.Errorf("%s: model path must be a directory", path)
	}

	cfg, err := ReadConfig(filepath.Join(path, configFile))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", configFile, err)
	}
	if cfg.VocabSize < tokenizer.ByteVocabSize {
		return nil, nil, fmt.Errorf("vocab_size %d is smaller than the byte vocabulary (%d)", cfg.VocabSize, tokenizer.ByteVocabSize)
	}
	fam, err := LookupFamily(cfg.ModelType, cfg.Architectures...)
	if err != nil {
		return nil, nil, err
	}

	files, err := filepath.Glob(filepath.Join(path, "*.safetensors"))
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%s: no .safetensors files", path)
	}
	sort.Strings(files)

	tensors := make(map[string]*tensor.Tensor)
	for _, file := range files {
		if err := readAll(file, tensors); err != nil {
			return nil, nil, err
		}
	}

	m, err := Build(cfg, fam, tensors)
	if err != nil {
		return nil, nil, err
	}
	var tok tokenizer.Tokenizer = tokenizer.Bytes{AddBOS: true}
	if format, ok := tokenizer.DetectChatFormat(cfg.ModelType, readChatTemplate(path)); ok {
		tok = tokenizer.Templated{Tokenizer: tok, Format: format}
	}
	return m, tok, nil
}

// readChatTemplate returns the template source shipped with the model, from
// chat_template.jinja or the chat_template field of tokenizer_config.json.
func readChatTemplate(dir string) string {
	if raw, err := os.ReadFile(filepath.Join(dir, "chat_template.jinja")); err == nil {
		return string(raw)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json"))
	if err != nil {
		return ""
	}
	var cfg struct {
		ChatTemplate any `json:"chat_template"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ""
	}
	s, _ := cfg.ChatTemplate.(string)
	return s
}

func readAll(path string, into map[string]*tensor.Tensor) error {
	f, err := safetensors.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	for _, name := range f.Names() {
		if _, dup := into[name]; dup {
			return fmt.Errorf("tensor %s appears in more than one shard", name)
		}
		t, err := f.Load(name)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		into[name] = t
	}
	return nil
}

// Build assembles a model from named tensors using the family's naming.
func Build(cfg Config, fam *Family, tensors map[string]*tensor.Tensor) (*Model, error) {
	m := &Model{
		Config:  cfg,
		Family:  fam,
		Modules: make(map[string]*Module),
	}

	take := func(name string, shape ...int) (*Module, error) {
		w, ok := tensors[name+".weight"]
		if !ok {
			return nil, fmt.Errorf("missing tensor %s.weight", name)
		}
		if !slices.Equal(w.Shape, shape) {
			return nil, fmt.Errorf("%s.weight: shape %v, want %v", name, w.Shape, shape)
		}
		mod := &Module{Name: name, Weight: w}
		if b, ok := tensors[name+".bias"]; ok {
			if len(b.Shape) != 1 || b.Shape[0] != shape[0] {
				return nil, fmt.Errorf("%s.bias: shape %v, want [%d]", name, b.Shape, shape[0])
			}
			mod.Bias = b
		}
		m.Modules[name] = mod
		return mod, nil
	}

	d, ff, vocab := cfg.HiddenSize, cfg.IntermediateSize, cfg.VocabSize
	var err error
	if m.Embed, err = take(fam.Embed, vocab, d); err != nil {
		return nil, err
	}
	if m.Norm, err = take(fam.Norm, d); err != nil {
		return nil, err
	}
	if _, ok := tensors[fam.Head+".weight"]; ok || !cfg.TieWordEmbeddings {
		if m.Head, err = take(fam.Head, vocab, d); err != nil {
			return nil, err
		}
	} else {
		m.Head = &Module{Name: fam.Head, Weight: m.Embed.Weight}
	}

	m.layers = make([]Layer, cfg.NumHiddenLayers)
	for i := range m.layers {
		n := fam.Layer(i)
		b := &Block{Idx: i, Eps: float32(cfg.RMSNormEps)}
		steps := []struct {
			dst   **Module
			name  string
			shape []int
		}{
			{&b.AttnNorm, n.AttnNorm, []int{d}},
			{&b.Q, n.Q, []int{d, d}},
			{&b.K, n.K, []int{d, d}},
			{&b.V, n.V, []int{d, d}},
			{&b.O, n.O, []int{d, d}},
			{&b.MLPNorm, n.MLPNorm, []int{d}},
			{&b.Gate, n.Gate, []int{ff, d}},
			{&b.Up, n.Up, []int{ff, d}},
			{&b.Down, n.Down, []int{d, ff}},
		}
		for _, s := range steps {
			if *s.dst, err = take(s.name, s.shape...); err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		m.layers[i] = b
	}

	for name := range tensors {
		leaf := strings.TrimSuffix(strings.TrimSuffix(name, ".weight"), ".bias")
		if _, ok := m.Modules[leaf]; !ok {
			return nil, fmt.Errorf("unexpected tensor %s for family %s", name, fam.Name)
		}
	}
	return m, nil
}
