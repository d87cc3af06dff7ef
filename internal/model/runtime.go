package model

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/tensor"
)

// Layer is one position in the layer stack. Forward updates the hidden state
// in place; g carries the collectives for split modules.
type Layer interface {
	Index() int
	Forward(ctx context.Context, g dist.Group, h []float32) error
	Reset()
}

// Stub stands in for a layer owned by another rank. It is an identity.
type Stub struct {
	Idx int
}

func (s Stub) Index() int { return s.Idx }

func (Stub) Forward(context.Context, dist.Group, []float32) error { return nil }

func (Stub) Reset() {}

// Block is the reference residual block:
//
//	x = norm(h); q, k, v = Wq x, Wk x, Wv x
//	s += k*v; a = sigmoid(q) * s / t; h += Wo a
//	x = norm(h); h += Wd (silu(Wg x) * Wu x)
//
// The attention term is a per-dimension running state, so every operation
// stays element-wise between the projections and tensor-parallel execution
// reproduces the single-device result.
type Block struct {
	Idx int
	Eps float32

	AttnNorm *Module
	Q, K, V  *Module
	O        *Module
	MLPNorm  *Module
	Gate, Up *Module
	Down     *Module

	state []float32
	steps int
}

func (b *Block) Index() int { return b.Idx }

func (b *Block) Reset() {
	b.state = nil
	b.steps = 0
}

// Modules lists the block's leaf modules in a fixed order.
func (b *Block) Modules() []*Module {
	return []*Module{b.AttnNorm, b.Q, b.K, b.V, b.O, b.MLPNorm, b.Gate, b.Up, b.Down}
}

func (b *Block) Forward(ctx context.Context, g dist.Group, h []float32) error {
	x := make([]float32, len(h))
	tensor.RMSNorm(x, h, b.AttnNorm.Weight.Data, b.Eps)

	q, err := project(ctx, g, b.Q, x)
	if err != nil {
		return err
	}
	k, err := project(ctx, g, b.K, x)
	if err != nil {
		return err
	}
	v, err := project(ctx, g, b.V, x)
	if err != nil {
		return err
	}

	// q, k and v are combined element-wise, so they must agree on whether
	// they hold the full vector or this rank's slice.
	local := b.Q.Split == SplitOutput && b.K.Split == SplitOutput && b.V.Split == SplitOutput
	if !local {
		if q, err = gather(ctx, g, b.Q, q); err != nil {
			return err
		}
		if k, err = gather(ctx, g, b.K, k); err != nil {
			return err
		}
		if v, err = gather(ctx, g, b.V, v); err != nil {
			return err
		}
	}

	if len(b.state) != len(k) {
		b.state = make([]float32, len(k))
		b.steps = 0
	}
	b.steps++
	inv := 1 / float32(b.steps)
	a := make([]float32, len(q))
	for i := range a {
		b.state[i] += k[i] * v[i]
		a[i] = tensor.Sigmoid(q[i]) * b.state[i] * inv
	}

	o, err := consume(ctx, g, b.O, a, local)
	if err != nil {
		return err
	}
	tensor.Add(h, o)

	tensor.RMSNorm(x, h, b.MLPNorm.Weight.Data, b.Eps)
	gate, err := project(ctx, g, b.Gate, x)
	if err != nil {
		return err
	}
	up, err := project(ctx, g, b.Up, x)
	if err != nil {
		return err
	}
	local = b.Gate.Split == SplitOutput && b.Up.Split == SplitOutput
	if !local {
		if gate, err = gather(ctx, g, b.Gate, gate); err != nil {
			return err
		}
		if up, err = gather(ctx, g, b.Up, up); err != nil {
			return err
		}
	}
	for i := range gate {
		gate[i] = tensor.SiLU(gate[i]) * up[i]
	}

	d, err := consume(ctx, g, b.Down, gate, local)
	if err != nil {
		return err
	}
	tensor.Add(h, d)
	return nil
}

// project computes mod·x for a module whose input is the full vector.
func project(ctx context.Context, g dist.Group, mod *Module, x []float32) ([]float32, error) {
	if mod.Split == SplitInput {
		x = localSlice(g, x)
	}
	return apply(ctx, g, mod, x)
}

// consume computes mod·x where x is either this rank's slice (local) or the
// full vector, reconciling x with the module's split first.
func consume(ctx context.Context, g dist.Group, mod *Module, x []float32, local bool) ([]float32, error) {
	switch {
	case local && mod.Split != SplitInput:
		full, err := gatherSlice(ctx, g, x)
		if err != nil {
			return nil, err
		}
		x = full
	case !local && mod.Split == SplitInput:
		x = localSlice(g, x)
	}
	return apply(ctx, g, mod, x)
}

func apply(ctx context.Context, g dist.Group, mod *Module, x []float32) ([]float32, error) {
	w := mod.Weight
	if len(w.Shape) != 2 || w.Shape[1] != len(x) {
		return nil, fmt.Errorf("%s: weight %v does not accept input of %d", mod.Name, w.Shape, len(x))
	}
	out := make([]float32, w.Shape[0])
	tensor.MatVec(out, w, x)
	if mod.Split == SplitInput {
		if err := g.AllSum(ctx, tensor.Vector(out)); err != nil {
			return nil, fmt.Errorf("%s: all_sum: %w", mod.Name, err)
		}
	}
	if mod.Bias != nil {
		tensor.Add(out, mod.Bias.Data)
	}
	return out, nil
}

// gather returns the full output of mod given this rank's result.
func gather(ctx context.Context, g dist.Group, mod *Module, y []float32) ([]float32, error) {
	if mod.Split != SplitOutput {
		return y, nil
	}
	return gatherSlice(ctx, g, y)
}

// gatherSlice reassembles equal per-rank slices with a sum-reduce over a
// zero-padded buffer, so only AllSum is needed from the group.
func gatherSlice(ctx context.Context, g dist.Group, part []float32) ([]float32, error) {
	n := g.Size()
	if n == 1 {
		return part, nil
	}
	full := tensor.New(len(part) * n)
	copy(full.Data[g.Rank()*len(part):], part)
	if err := g.AllSum(ctx, full); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	return full.Data, nil
}

func localSlice(g dist.Group, x []float32) []float32 {
	n := g.Size()
	w := len(x) / n
	return x[g.Rank()*w : (g.Rank()+1)*w]
}

// Embedding returns a fresh hidden state for token id.
func (m *Model) Embedding(id int) ([]float32, error) {
	if m.Embed == nil {
		return nil, fmt.Errorf("embedding table not resident on this rank")
	}
	vocab := m.Embed.Weight.Shape[0]
	if id < 0 || id >= vocab {
		return nil, fmt.Errorf("token id %d out of range [0,%d)", id, vocab)
	}
	return append([]float32(nil), m.Embed.Weight.Row(id)...), nil
}

// ForwardLayers runs layers [start, end) over h.
func (m *Model) ForwardLayers(ctx context.Context, g dist.Group, h []float32, start, end int) error {
	for _, l := range m.layers[start:end] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Forward(ctx, g, h); err != nil {
			return fmt.Errorf("layer %d: %w", l.Index(), err)
		}
	}
	return nil
}

// Logits applies the final norm and output head.
func (m *Model) Logits(h []float32) ([]float32, error) {
	if m.Head == nil || m.Norm == nil {
		return nil, fmt.Errorf("output head not resident on this rank")
	}
	x := make([]float32, len(h))
	tensor.RMSNorm(x, h, m.Norm.Weight.Data, float32(m.Config.RMSNormEps))
	out := make([]float32, m.Head.Weight.Shape[0])
	tensor.MatVec(out, m.Head.Weight, x)
	if m.Head.Bias != nil {
		tensor.Add(out, m.Head.Bias.Data)
	}
	return out, nil
}

// Forward runs the whole stack for one token and returns next-token logits.
func (m *Model) Forward(ctx context.Context, g dist.Group, id int) ([]float32, error) {
	h, err := m.Embedding(id)
	if err != nil {
		return nil, err
	}
	if err := m.ForwardLayers(ctx, g, h, 0, len(m.layers)); err != nil {
		return nil, err
	}
	return m.Logits(h)
}
