package shard

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/model"
)

// Report summarises what Apply did on one rank.
type Report struct {
	Rank        dist.DeviceRank
	Plans       []Plan
	Sharded     int
	Replicated  int
	BytesBefore int64
	BytesAfter  int64
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: %d sharded, %d replicated, %s -> %s",
		r.Rank, r.Sharded, r.Replicated,
		humanize.IBytes(uint64(r.BytesBefore)), humanize.IBytes(uint64(r.BytesAfter)))
}

// Apply replaces every leaf weight of m with the slice owned by rank. Biases
// of output-split weights are sliced with them; biases of input-split weights
// stay whole because they are added once after the cross-rank sum.
func Apply(m *model.Model, rank dist.DeviceRank) (*Report, error) {
	if rank.WorldSize < 1 || rank.Rank < 0 || rank.Rank >= rank.WorldSize {
		return nil, errors.Errorf("invalid rank %d of %d", rank.Rank, rank.WorldSize)
	}
	rep := &Report{Rank: rank, BytesBefore: m.Bytes()}

	for _, name := range m.ModuleNames() {
		mod := m.Modules[name]
		plan := PlanFor(name, mod.Weight.Shape, rank.Rank, rank.WorldSize)
		rep.Plans = append(rep.Plans, plan)
		if plan.Replicated {
			rep.Replicated++
			continue
		}
		if err := shardModule(mod, plan); err != nil {
			return nil, errors.Wrapf(err, "shard %s", name)
		}
		rep.Sharded++
	}

	rep.BytesAfter = m.Bytes()
	return rep, nil
}

func shardModule(mod *model.Module, plan Plan) error {
	w, err := mod.Weight.Slice(plan.Axis, plan.Start, plan.End)
	if err != nil {
		return err
	}
	switch plan.Axis {
	case 0:
		if mod.Bias != nil && mod.Bias.Dims() == 1 && mod.Bias.Shape[0] == mod.Weight.Shape[0] {
			b, err := mod.Bias.Slice(0, plan.Start, plan.End)
			if err != nil {
				return err
			}
			mod.Bias = b
		}
		mod.Split = model.SplitOutput
	case 1:
		mod.Split = model.SplitInput
	default:
		return errors.Errorf("unexpected axis %d", plan.Axis)
	}
	mod.Weight = w
	return nil
}
