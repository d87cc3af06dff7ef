package dist

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/lattice/internal/tensor"
)

type opKind uint8

const (
	opSend opKind = iota
	opReduce
	opBroadcast
)

func (k opKind) String() string {
	switch k {
	case opSend:
		return "send"
	case opReduce:
		return "all_sum"
	case opBroadcast:
		return "all_sum result"
	default:
		return "unknown"
	}
}

// message is a copy of a tensor in flight. Ranks never share backing arrays.
type message struct {
	kind  opKind
	shape []int
	data  []float32
}

// mailboxDepth bounds how far a sender may run ahead of its receiver.
const mailboxDepth = 16

type hub struct {
	size  int
	boxes [][]chan message // boxes[src][dst]
	done  chan struct{}
	once  sync.Once
}

// localGroup is one rank of an in-process world. Collectives are rooted at
// rank 0, which sums contributions in rank order and broadcasts the result, so
// every rank observes bit-identical sums.
type localGroup struct {
	rank int
	hub  *hub
}

// NewLocal creates size ranks connected through in-process mailboxes.
// Closing any of them tears down the whole world.
func NewLocal(size int) []Group {
	h := &hub{
		size:  size,
		boxes: make([][]chan message, size),
		done:  make(chan struct{}),
	}
	for src := range h.boxes {
		h.boxes[src] = make([]chan message, size)
		for dst := range h.boxes[src] {
			if src != dst {
				h.boxes[src][dst] = make(chan message, mailboxDepth)
			}
		}
	}
	groups := make([]Group, size)
	for r := range groups {
		groups[r] = &localGroup{rank: r, hub: h}
	}
	return groups
}

func (g *localGroup) Rank() int { return g.rank }
func (g *localGroup) Size() int { return g.hub.size }

func (g *localGroup) Close() error {
	g.hub.once.Do(func() { close(g.hub.done) })
	return nil
}

func (g *localGroup) AllSum(ctx context.Context, t *tensor.Tensor) error {
	if g.hub.size == 1 {
		return ctx.Err()
	}
	if g.rank != 0 {
		if err := g.put(ctx, 0, opReduce, t); err != nil {
			return err
		}
		return g.take(ctx, 0, opBroadcast, t)
	}

	sum := t.Clone()
	part := tensor.New(t.Shape...)
	for src := 1; src < g.hub.size; src++ {
		if err := g.take(ctx, src, opReduce, part); err != nil {
			return err
		}
		tensor.Add(sum.Data, part.Data)
	}
	for dst := 1; dst < g.hub.size; dst++ {
		if err := g.put(ctx, dst, opBroadcast, sum); err != nil {
			return err
		}
	}
	copy(t.Data, sum.Data)
	return nil
}

func (g *localGroup) Send(ctx context.Context, t *tensor.Tensor, dst int) error {
	if err := g.checkPeer(dst); err != nil {
		return err
	}
	return g.put(ctx, dst, opSend, t)
}

func (g *localGroup) Recv(ctx context.Context, t *tensor.Tensor, src int) error {
	if err := g.checkPeer(src); err != nil {
		return err
	}
	return g.take(ctx, src, opSend, t)
}

func (g *localGroup) checkPeer(peer int) error {
	if peer < 0 || peer >= g.hub.size || peer == g.rank {
		return fmt.Errorf("%w: %d from rank %d of %d", ErrPeer, peer, g.rank, g.hub.size)
	}
	return nil
}

func (g *localGroup) put(ctx context.Context, dst int, kind opKind, t *tensor.Tensor) error {
	msg := message{kind: kind, shape: slices.Clone(t.Shape), data: slices.Clone(t.Data)}
	select {
	case g.hub.boxes[g.rank][dst] <- msg:
		return nil
	case <-g.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *localGroup) take(ctx context.Context, src int, kind opKind, t *tensor.Tensor) error {
	var msg message
	select {
	case msg = <-g.hub.boxes[src][g.rank]:
	case <-g.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if msg.kind != kind {
		return fmt.Errorf("%w: rank %d expected %s from rank %d, got %s", ErrMismatch, g.rank, kind, src, msg.kind)
	}
	if !slices.Equal(msg.shape, t.Shape) {
		return fmt.Errorf("%w: rank %d expected shape %v from rank %d, got %v", ErrMismatch, g.rank, t.Shape, src, msg.shape)
	}
	copy(t.Data, msg.data)
	return nil
}
