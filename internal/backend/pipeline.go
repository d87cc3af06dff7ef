package backend

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/pipeline"
)

type stageModel struct {
	stage *pipeline.Stage
	m     *model.Model
}

func (s stageModel) ForwardToken(ctx context.Context, id int) ([]float32, error) {
	return s.stage.Forward(ctx, id)
}

func (s stageModel) Reset() { s.m.Reset() }

// newPipeline keeps this rank's contiguous run of layers. The tail owns the
// output head, so it samples and shares each token with the other stages.
func newPipeline(opts Options) (*engine, error) {
	m, tok, err := load(opts)
	if err != nil {
		return nil, err
	}
	rank := dist.RankOf(opts.Group)
	own, err := pipeline.Prune(m, rank)
	if err != nil {
		return nil, err
	}
	total := len(m.Layers())
	opts.Logger.Info("pipeline stage ready",
		"role", rank.Role(),
		"layers", own.String(),
		"active", own.Len(),
		"stubbed", total-own.Len(),
		"resident", humanize.IBytes(uint64(m.Bytes())),
	)

	e := newEngine(PipelineParallel, opts, m, tok)
	e.model = stageModel{stage: pipeline.NewStage(m, opts.Group, own), m: m}
	e.sampler = rank.WorldSize - 1
	e.unit = "stages"
	return e, nil
}
