// Package dist provides the collective-communication surface used by the
// parallel backends: rank identity, element-wise sum-reduce and point-to-point
// tensor transfer.
package dist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samcharles93/lattice/internal/tensor"
)

var (
	ErrClosed   = errors.New("dist: group closed")
	ErrMismatch = errors.New("dist: collective mismatch")
	ErrPeer     = errors.New("dist: invalid peer rank")
)

// Group is one rank's handle on a communication group. Every rank of a group
// must issue the same sequence of collective calls.
type Group interface {
	Rank() int
	Size() int
	// AllSum replaces t with the element-wise sum of t over all ranks.
	AllSum(ctx context.Context, t *tensor.Tensor) error
	Send(ctx context.Context, t *tensor.Tensor, dst int) error
	// Recv fills t, which must already have the sender's shape.
	Recv(ctx context.Context, t *tensor.Tensor, src int) error
	Close() error
}

// DeviceRank is the fixed position of a process within its group.
type DeviceRank struct {
	Rank      int
	WorldSize int
}

// RankOf captures the rank identity of g.
func RankOf(g Group) DeviceRank {
	return DeviceRank{Rank: g.Rank(), WorldSize: g.Size()}
}

func (r DeviceRank) IsHead() bool { return r.Rank == 0 }

func (r DeviceRank) IsTail() bool { return r.Rank == r.WorldSize-1 }

// Role names the pipeline position of the rank.
func (r DeviceRank) Role() string {
	switch {
	case r.WorldSize <= 1:
		return "single"
	case r.IsHead():
		return "head"
	case r.IsTail():
		return "tail"
	default:
		return "mid"
	}
}

func (r DeviceRank) String() string {
	return fmt.Sprintf("rank %d/%d", r.Rank, r.WorldSize)
}

const (
	TransportSingle = "single"
	TransportLocal  = "local"
)

type Config struct {
	// Transport selects how ranks communicate: "single" or "local".
	Transport string
	// WorldSize is the number of ranks. Zero means one.
	WorldSize int
}

// World is the process-wide distributed context. It is built once at startup
// and handed to every backend; nothing in this package keeps global state.
type World struct {
	SessionID uuid.UUID
	Transport string

	groups []Group
}

// Init builds the groups hosted by this process.
func Init(cfg Config) (*World, error) {
	size := cfg.WorldSize
	if size == 0 {
		size = 1
	}
	if size < 0 {
		return nil, fmt.Errorf("invalid world size %d", cfg.WorldSize)
	}

	transport := cfg.Transport
	if transport == "" {
		transport = TransportSingle
		if size > 1 {
			transport = TransportLocal
		}
	}

	var groups []Group
	switch transport {
	case TransportSingle:
		if size != 1 {
			return nil, fmt.Errorf("transport %q supports one rank, got world size %d", transport, size)
		}
		groups = []Group{Single()}
	case TransportLocal:
		groups = NewLocal(size)
	default:
		return nil, fmt.Errorf("unknown transport %q (expected %q or %q)", transport, TransportSingle, TransportLocal)
	}

	return &World{
		SessionID: uuid.New(),
		Transport: transport,
		groups:    groups,
	}, nil
}

func (w *World) Size() int { return len(w.groups) }

// Groups returns one group per hosted rank, in rank order.
func (w *World) Groups() []Group { return w.groups }

func (w *World) Group(rank int) (Group, error) {
	if rank < 0 || rank >= len(w.groups) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPeer, rank, len(w.groups))
	}
	return w.groups[rank], nil
}

func (w *World) Close() error {
	var errs []error
	for _, g := range w.groups {
		if err := g.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type single struct{}

// Single returns the trivial one-rank group. Collectives are identities.
func Single() Group { return single{} }

func (single) Rank() int { return 0 }
func (single) Size() int { return 1 }

func (single) AllSum(ctx context.Context, _ *tensor.Tensor) error { return ctx.Err() }

func (single) Send(_ context.Context, _ *tensor.Tensor, dst int) error {
	return fmt.Errorf("%w: send to %d in a one-rank group", ErrPeer, dst)
}

func (single) Recv(_ context.Context, _ *tensor.Tensor, src int) error {
	return fmt.Errorf("%w: recv from %d in a one-rank group", ErrPeer, src)
}

func (single) Close() error { return nil }
