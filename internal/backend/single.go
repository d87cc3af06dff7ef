package backend

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

// fullModel runs every layer locally. Under tensor parallelism the group
// reconciles the sharded projections and every rank gets full logits.
type fullModel struct {
	m *model.Model
	g dist.Group
}

func (f fullModel) ForwardToken(ctx context.Context, id int) ([]float32, error) {
	return f.m.Forward(ctx, f.g, id)
}

func (f fullModel) Reset() { f.m.Reset() }

func load(opts Options) (*model.Model, tokenizer.Tokenizer, error) {
	if opts.ModelPath == "" {
		return nil, nil, fmt.Errorf("model path is required")
	}
	m, tok, err := model.Load(opts.ModelPath)
	if err != nil {
		return nil, nil, err
	}
	if m.Config.VocabSize >= maxExact {
		return nil, nil, fmt.Errorf("vocab_size %d too large to share token ids", m.Config.VocabSize)
	}
	opts.Logger.Info("model loaded",
		"path", opts.ModelPath,
		"family", m.Family.Name,
		"layers", len(m.Layers()),
		"hidden", m.Config.HiddenSize,
		"vocab", m.Config.VocabSize,
		"size", humanize.IBytes(uint64(m.Bytes())),
	)
	return m, tok, nil
}

func newEngine(kind Kind, opts Options, m *model.Model, tok tokenizer.Tokenizer) *engine {
	return &engine{
		kind:     kind,
		path:     opts.ModelPath,
		group:    opts.Group,
		rank:     dist.RankOf(opts.Group),
		log:      opts.Logger,
		defaults: opts.Defaults,
		unit:     "devices",
		model:    fullModel{m: m, g: opts.Group},
		tok:      tok,
	}
}

func newSingle(opts Options) (*engine, error) {
	if opts.Group.Size() != 1 {
		return nil, fmt.Errorf("%w: single backend runs on one rank, group has %d", ErrInvalidRank, opts.Group.Size())
	}
	m, tok, err := load(opts)
	if err != nil {
		return nil, err
	}
	return newEngine(Single, opts, m, tok), nil
}
