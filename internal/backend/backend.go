// Package backend implements the generation contract shared by the
// single-device, tensor-parallel and pipeline-parallel variants.
package backend

import (
	"context"
	"iter"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/logger"
)

// Backend is implemented by every variant.
type Backend interface {
	// Name is a stable identifier with no side effects.
	Name() string
	// Generate blocks until the whole completion is available.
	Generate(ctx context.Context, req *inference.Request) (*inference.Result, error)
	// GenerateStream returns a lazy, one-shot token sequence. Work starts
	// when the sequence is ranged and pauses after every token.
	GenerateStream(ctx context.Context, req *inference.Request) iter.Seq2[inference.StreamToken, error]
	Close() error
}

// Defaults fill sampling parameters a request leaves unset.
type Defaults struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	// MaxTokens caps max_tokens of every request when positive.
	MaxTokens int
}

type Options struct {
	ModelPath string
	// Group is this rank's communication group. Nil means a one-rank world.
	Group    dist.Group
	Logger   logger.Logger
	Defaults Defaults
}

// New loads the model at opts.ModelPath and binds it to opts.Group. Failures
// are returned as *LoadError.
func New(ctx context.Context, kind Kind, opts Options) (Backend, error) {
	if opts.Group == nil {
		opts.Group = dist.Single()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	rank := dist.RankOf(opts.Group)
	opts.Logger = logger.ForRank(opts.Logger, rank.Rank, rank.WorldSize)

	var (
		e   *engine
		err error
	)
	switch kind {
	case Single:
		e, err = newSingle(opts)
	case TensorParallel:
		e, err = newTensorParallel(opts)
	case PipelineParallel:
		e, err = newPipeline(opts)
	default:
		return nil, newLoadError(kind, opts.ModelPath, ErrInvalidRank)
	}
	if err != nil {
		return nil, newLoadError(kind, opts.ModelPath, err)
	}
	if err := handshake(ctx, opts.Group); err != nil {
		return nil, newLoadError(kind, opts.ModelPath, err)
	}
	return e, nil
}
