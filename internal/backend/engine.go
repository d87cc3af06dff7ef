package backend

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/logger"
	"github.com/samcharles93/lattice/internal/logits"
	"github.com/samcharles93/lattice/internal/tensor"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

// Token ids and seeds travel through AllSum as float32, which is exact
// below 2^24.
const maxExact = 1 << 24

// engine is the per-rank generation loop shared by all variants. Every rank
// of a world must call Generate or GenerateStream with the same request.
type engine struct {
	kind     Kind
	path     string
	group    dist.Group
	rank     dist.DeviceRank
	log      logger.Logger
	defaults Defaults

	// sampler is the rank that owns the logits and picks each token.
	sampler int
	unit    string

	mu     sync.Mutex
	model  inference.Model
	tok    tokenizer.Tokenizer
	closed bool
}

func (e *engine) Name() string { return e.kind.String() }

func (e *engine) Generate(ctx context.Context, req *inference.Request) (*inference.Result, error) {
	return e.generate(ctx, req, nil)
}

func (e *engine) GenerateStream(ctx context.Context, req *inference.Request) iter.Seq2[inference.StreamToken, error] {
	return inference.Tokens(func(emit func(string) bool) error {
		_, err := e.generate(ctx, req, emit)
		return err
	})
}

func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.model = nil
	e.tok = nil
	return nil
}

func (e *engine) generate(ctx context.Context, req *inference.Request, emit func(string) bool) (*inference.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &Error{Op: "generate", Err: newLoadError(e.kind, e.path, ErrClosed)}
	}
	if req == nil {
		return nil, &Error{Op: "generate", Err: fmt.Errorf("nil request")}
	}
	r := *req
	if err := r.Normalize(); err != nil {
		return nil, &Error{Op: "generate", Err: err}
	}
	maxTokens := *r.MaxTokens
	if e.defaults.MaxTokens > 0 && maxTokens > e.defaults.MaxTokens {
		maxTokens = e.defaults.MaxTokens
	}

	prompt, err := inference.RenderPrompt(e.tok, r.Messages)
	if err != nil {
		return nil, &Error{Op: "render prompt", Err: err}
	}
	ids, err := inference.SafeEncode(e.tok, prompt)
	if err != nil {
		return nil, &Error{Op: "encode prompt", Err: err}
	}

	gen := inference.Generator{
		Model:      e.model,
		Tokenizer:  e.tok,
		StopTokens: []int{e.tok.EOS()},
	}
	if e.rank.WorldSize > 1 {
		gen.Agree = e.agreeToken
	}
	seed, err := e.agreeSeed(ctx, r.Seed)
	if err != nil {
		return nil, &Error{Op: "agree seed", Err: err}
	}
	if e.rank.Rank == e.sampler {
		gen.Sampler = logits.NewSampler(e.samplerConfig(&r, seed))
	}

	if !e.rank.IsHead() {
		emit = nil
	}
	stream := inference.NewStream(r.Stop)
	stats, err := gen.Run(ctx, ids, maxTokens, stream, emit)
	if err != nil {
		return nil, &Error{Op: "generate", Err: err}
	}
	if e.rank.IsHead() {
		e.log.Info("generation finished",
			"prompt_tokens", stats.PromptTokens,
			"tokens", stats.TokensGenerated,
			"elapsed", stats.Duration.Round(time.Millisecond),
			"tok_s", fmt.Sprintf("%.2f", stats.TPS),
			e.unit, e.rank.WorldSize,
		)
	}
	return &inference.Result{
		Text:             stream.Text(),
		FinishReason:     stream.FinishReason(),
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.TokensGenerated,
	}, nil
}

func (e *engine) samplerConfig(r *inference.Request, seed int64) logits.SamplerConfig {
	cfg := logits.SamplerConfig{
		Seed:          seed,
		Temperature:   float32(e.defaults.Temperature),
		TopP:          float32(e.defaults.TopP),
		TopK:          e.defaults.TopK,
		RepeatPenalty: float32(e.defaults.RepeatPenalty),
	}
	if r.Temperature != nil {
		cfg.Temperature = float32(*r.Temperature)
	}
	if r.TopP != nil {
		cfg.TopP = float32(*r.TopP)
	}
	return cfg
}

// agreeSeed returns the request seed, or a fresh one drawn by the sampling
// rank and shared with the rest of the world.
func (e *engine) agreeSeed(ctx context.Context, seed *int64) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	var v float32
	if e.rank.Rank == e.sampler {
		v = float32(rand.Int64N(maxExact))
	}
	if e.rank.WorldSize == 1 {
		return int64(v), nil
	}
	t := tensor.Vector([]float32{v})
	if err := e.group.AllSum(ctx, t); err != nil {
		return 0, err
	}
	return int64(t.Data[0]), nil
}

func (e *engine) agreeToken(ctx context.Context, token int) (int, error) {
	var v float32
	if e.rank.Rank == e.sampler {
		if token < 0 || token >= maxExact-1 {
			return 0, fmt.Errorf("token %d cannot be shared", token)
		}
		v = float32(token + 1)
	}
	t := tensor.Vector([]float32{v})
	if err := e.group.AllSum(ctx, t); err != nil {
		return 0, err
	}
	return int(t.Data[0]) - 1, nil
}

// handshake checks that every rank of the group is reachable.
func handshake(ctx context.Context, g dist.Group) error {
	if g.Size() == 1 {
		return nil
	}
	t := tensor.Vector([]float32{1})
	if err := g.AllSum(ctx, t); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if int(t.Data[0]) != g.Size() {
		return fmt.Errorf("handshake: %v ranks answered, expected %d", t.Data[0], g.Size())
	}
	return nil
}
