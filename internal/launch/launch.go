// Package launch hosts every rank of a world inside one process and presents
// them as a single backend. Rank 0 leads: its results are the ones returned,
// while the other ranks run the same call in lockstep.
package launch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/logger"
)

// ErrBroken is returned once a call failed part-way through a collective.
// The ranks can no longer be assumed to be paired.
var ErrBroken = errors.New("world out of step")

type Config struct {
	Kind      backend.Kind
	ModelPath string
	// WorldSize is the number of ranks to host. Zero means one.
	WorldSize int
	// Transport is passed to dist.Init.
	Transport string
	Logger    logger.Logger
	Defaults  backend.Defaults
}

// Cluster implements backend.Backend over all ranks of a world.
type Cluster struct {
	kind  backend.Kind
	world *dist.World
	ranks []backend.Backend
	log   logger.Logger

	mu     sync.Mutex
	broken error
}

var _ backend.Backend = (*Cluster)(nil)

// Start brings up every rank concurrently. Any rank failing to load fails
// the whole cluster with that rank's *backend.LoadError.
func Start(ctx context.Context, cfg Config) (*Cluster, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	world, err := dist.Init(dist.Config{Transport: cfg.Transport, WorldSize: cfg.WorldSize})
	if err != nil {
		return nil, &backend.LoadError{Kind: cfg.Kind, Path: cfg.ModelPath, Err: err}
	}
	log := cfg.Logger.With("session", world.SessionID.String())

	ranks := make([]backend.Backend, world.Size())
	eg, gctx := errgroup.WithContext(ctx)
	for i, g := range world.Groups() {
		eg.Go(func() error {
			b, err := backend.New(gctx, cfg.Kind, backend.Options{
				ModelPath: cfg.ModelPath,
				Group:     g,
				Logger:    log,
				Defaults:  cfg.Defaults,
			})
			if err != nil {
				// Unblock ranks still waiting in the handshake.
				g.Close()
				return err
			}
			ranks[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, b := range ranks {
			if b != nil {
				b.Close()
			}
		}
		world.Close()
		return nil, err
	}

	log.Info("cluster ready",
		"backend", cfg.Kind.String(),
		"world_size", world.Size(),
		"transport", world.Transport,
	)
	return &Cluster{kind: cfg.Kind, world: world, ranks: ranks, log: log}, nil
}

func (c *Cluster) Name() string { return c.kind.String() }

func (c *Cluster) Size() int { return len(c.ranks) }

func (c *Cluster) Generate(ctx context.Context, req *inference.Request) (*inference.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(req); err != nil {
		return nil, err
	}

	var res *inference.Result
	eg, gctx := errgroup.WithContext(ctx)
	for i, b := range c.ranks {
		eg.Go(func() error {
			r, err := b.Generate(gctx, req)
			if i == 0 {
				res = r
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, c.fail(err)
	}
	return res, nil
}

func (c *Cluster) GenerateStream(ctx context.Context, req *inference.Request) iter.Seq2[inference.StreamToken, error] {
	var used atomic.Bool
	return func(yield func(inference.StreamToken, error) bool) {
		if used.Swap(true) {
			yield(inference.StreamToken{}, inference.ErrStreamConsumed)
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.check(req); err != nil {
			yield(inference.StreamToken{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		eg, gctx := errgroup.WithContext(ctx)
		for _, b := range c.ranks[1:] {
			eg.Go(func() error {
				_, err := b.Generate(gctx, req)
				return err
			})
		}

		// The leader keeps generating after the consumer stops so that
		// followers can finish their collectives.
		var leadErr error
		stopped := false
		var last inference.StreamToken
		for tok, err := range c.ranks[0].GenerateStream(gctx, req) {
			if err != nil {
				leadErr = err
				cancel()
				break
			}
			if tok.Done {
				last = tok
				continue
			}
			if !stopped && !yield(tok, nil) {
				stopped = true
			}
		}

		err := eg.Wait()
		if leadErr != nil && (err == nil || !errors.Is(leadErr, context.Canceled)) {
			err = leadErr
		}
		if err != nil {
			err = c.fail(err)
			if !stopped {
				yield(inference.StreamToken{}, err)
			}
			return
		}
		if !stopped {
			yield(last, nil)
		}
	}
}

// Close releases every rank and then the world.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, b := range c.ranks {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.world.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// check rejects calls on a broken world and invalid requests before any
// rank starts, so that a bad request never leaves a collective half done.
func (c *Cluster) check(req *inference.Request) error {
	if c.broken != nil {
		return &backend.Error{Op: "generate", Err: &backend.LoadError{Kind: c.kind, Err: c.broken}}
	}
	if req == nil {
		return &backend.Error{Op: "generate", Err: fmt.Errorf("nil request")}
	}
	r := *req
	if err := r.Normalize(); err != nil {
		return &backend.Error{Op: "generate", Err: err}
	}
	return nil
}

func (c *Cluster) fail(err error) error {
	if len(c.ranks) > 1 {
		c.broken = fmt.Errorf("%w: %v", ErrBroken, err)
		c.log.Error("generation failed, world is out of step", "error", err)
	}
	return err
}
