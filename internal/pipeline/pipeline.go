// Package pipeline assigns contiguous layer ranges to pipeline ranks and
// moves activations between them.
package pipeline

import (
	"context"
	"fmt"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tensor"
)

// Assignment is the half-open layer range [Start, End) owned by a rank.
type Assignment struct {
	Start int
	End   int
}

func (a Assignment) Len() int { return a.End - a.Start }

func (a Assignment) Contains(layer int) bool { return layer >= a.Start && layer < a.End }

func (a Assignment) String() string { return fmt.Sprintf("[%d,%d)", a.Start, a.End) }

// ComputeLayerAssignment splits numLayers over worldSize ranks. Every rank
// gets numLayers/worldSize layers and the last numLayers%worldSize ranks get
// one more, so the ranges are contiguous and cover [0, numLayers).
func ComputeLayerAssignment(numLayers, worldSize int) ([]Assignment, error) {
	switch {
	case numLayers < 1:
		return nil, fmt.Errorf("need at least one layer, got %d", numLayers)
	case worldSize < 1:
		return nil, fmt.Errorf("need at least one rank, got %d", worldSize)
	case worldSize > numLayers:
		return nil, fmt.Errorf("%d ranks cannot share %d layers", worldSize, numLayers)
	}
	base := numLayers / worldSize
	extra := numLayers % worldSize

	out := make([]Assignment, worldSize)
	start := 0
	for r := range out {
		n := base
		if r >= worldSize-extra {
			n++
		}
		out[r] = Assignment{Start: start, End: start + n}
		start += n
	}
	return out, nil
}

// AssignmentFor returns the range owned by one rank.
func AssignmentFor(numLayers int, rank dist.DeviceRank) (Assignment, error) {
	all, err := ComputeLayerAssignment(numLayers, rank.WorldSize)
	if err != nil {
		return Assignment{}, err
	}
	if rank.Rank < 0 || rank.Rank >= len(all) {
		return Assignment{}, fmt.Errorf("rank %d outside world of %d", rank.Rank, rank.WorldSize)
	}
	return all[rank.Rank], nil
}

// Prune replaces every layer outside the rank's range with an identity stub
// and releases the embedding on non-head ranks and the output head and final
// norm on non-tail ranks. The layer list keeps its length.
func Prune(m *model.Model, rank dist.DeviceRank) (Assignment, error) {
	layers := m.Layers()
	own, err := AssignmentFor(len(layers), rank)
	if err != nil {
		return Assignment{}, err
	}
	for i := range layers {
		if own.Contains(i) {
			continue
		}
		if err := m.SetLayer(i, model.Stub{Idx: i}); err != nil {
			return Assignment{}, err
		}
	}
	if !rank.IsHead() {
		m.Embed = m.Release(m.Embed)
	}
	if !rank.IsTail() {
		m.Head = m.Release(m.Head)
		m.Norm = m.Release(m.Norm)
	}
	return own, nil
}

// Stage runs one rank's share of a forward pass. The head embeds the token,
// each rank applies its layers, non-tail ranks send the hidden state to the
// next rank, and the tail produces logits.
type Stage struct {
	Rank   dist.DeviceRank
	Layers Assignment

	model  *model.Model
	group  dist.Group
	hidden int
}

func NewStage(m *model.Model, g dist.Group, own Assignment) *Stage {
	return &Stage{
		Rank:   dist.RankOf(g),
		Layers: own,
		model:  m,
		group:  g,
		hidden: m.Config.HiddenSize,
	}
}

// Forward processes token id. Only the tail returns logits; other ranks
// return nil once their activation has been handed on.
func (s *Stage) Forward(ctx context.Context, id int) ([]float32, error) {
	var h []float32
	if s.Rank.IsHead() {
		emb, err := s.model.Embedding(id)
		if err != nil {
			return nil, err
		}
		h = emb
	} else {
		in := tensor.New(s.hidden)
		if err := s.group.Recv(ctx, in, s.Rank.Rank-1); err != nil {
			return nil, fmt.Errorf("recv activation from rank %d: %w", s.Rank.Rank-1, err)
		}
		h = in.Data
	}

	if err := s.model.ForwardLayers(ctx, s.group, h, s.Layers.Start, s.Layers.End); err != nil {
		return nil, err
	}

	if !s.Rank.IsTail() {
		if err := s.group.Send(ctx, tensor.Vector(h), s.Rank.Rank+1); err != nil {
			return nil, fmt.Errorf("send activation to rank %d: %w", s.Rank.Rank+1, err)
		}
		return nil, nil
	}
	return s.model.Logits(h)
}
