package backend

import (
	"github.com/dustin/go-humanize"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/shard"
)

// newTensorParallel loads the full model, keeps this rank's slice of every
// shardable projection and samples on rank 0.
func newTensorParallel(opts Options) (*engine, error) {
	m, tok, err := load(opts)
	if err != nil {
		return nil, err
	}
	rank := dist.RankOf(opts.Group)
	report, err := shard.Apply(m, rank)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("weights sharded",
		"sharded", report.Sharded,
		"replicated", report.Replicated,
		"before", humanize.IBytes(uint64(report.BytesBefore)),
		"after", humanize.IBytes(uint64(report.BytesAfter)),
	)
	for _, p := range report.Plans {
		opts.Logger.Debug("shard plan", "plan", p.String())
	}
	e := newEngine(TensorParallel, opts, m, tok)
	e.sampler = 0
	return e, nil
}
