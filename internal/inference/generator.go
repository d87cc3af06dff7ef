package inference

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/lattice/internal/logits"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

// Model is one rank's view of the network. ForwardToken returns nil logits
// on ranks that do not compute the output head.
type Model interface {
	ForwardToken(ctx context.Context, id int) ([]float32, error)
	Reset()
}

// AgreeFunc makes every rank adopt the token chosen by the sampling rank.
// Ranks that do not sample pass -1.
type AgreeFunc func(ctx context.Context, token int) (int, error)

// Generator manages the state of a generation session.
type Generator struct {
	Model     Model
	Tokenizer tokenizer.Tokenizer
	// Sampler is nil on ranks that only follow the sampling rank.
	Sampler    *logits.Sampler
	StopTokens []int
	// Agree is set when several ranks run the loop together. In that case
	// the loop always runs to completion so that collectives stay paired,
	// even after the consumer stops listening.
	Agree AgreeFunc
}

// Run feeds the prompt, then samples up to maxTokens tokens. Every fragment
// the stream accepts is passed to emit; emit returning false stops delivery.
func (g *Generator) Run(ctx context.Context, prompt []int, maxTokens int, stream *Stream, emit func(string) bool) (Stats, error) {
	stats := Stats{PromptTokens: len(prompt)}
	start := time.Now()

	if err := safeReset(g.Model); err != nil {
		return stats, err
	}
	var logitsVec []float32
	var err error
	for _, id := range prompt {
		if logitsVec, err = g.forward(ctx, id); err != nil {
			return stats, fmt.Errorf("prefill: %w", err)
		}
	}

	dec := tokenizer.NewDecoder(g.Tokenizer)
	recent := slices.Clone(prompt)
	deliver := func(frag string) bool {
		if !stream.Push(frag) || emit == nil {
			return true
		}
		if emit(frag) {
			return true
		}
		emit = nil
		return g.Agree != nil
	}

	for stats.TokensGenerated < maxTokens {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		next := -1
		if g.Sampler != nil {
			if logitsVec == nil {
				return stats, fmt.Errorf("sampling rank produced no logits")
			}
			next = g.Sampler.Sample(logitsVec, recent)
		}
		if g.Agree != nil {
			if next, err = g.Agree(ctx, next); err != nil {
				return stats, fmt.Errorf("agree on token: %w", err)
			}
		}
		if slices.Contains(g.StopTokens, next) {
			break
		}

		stats.TokensGenerated++
		recent = append(recent, next)
		frag, err := dec.Push(next)
		if err != nil {
			return stats, fmt.Errorf("decode token %d: %w", next, err)
		}
		if !deliver(frag) {
			return finishStats(stats, start), nil
		}
		if stream.Done() {
			break
		}
		if stats.TokensGenerated < maxTokens {
			if logitsVec, err = g.forward(ctx, next); err != nil {
				return stats, fmt.Errorf("step %d: %w", stats.TokensGenerated, err)
			}
		}
	}

	if !stream.Done() {
		rest, err := dec.Flush()
		if err != nil {
			return stats, err
		}
		if !deliver(rest) {
			return finishStats(stats, start), nil
		}
		if stats.TokensGenerated >= maxTokens {
			stream.Finish(FinishLength)
		} else {
			stream.Finish(FinishStop)
		}
	}
	return finishStats(stats, start), nil
}

func (g *Generator) forward(ctx context.Context, id int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ForwardToken: %v", rec)
		}
	}()
	return g.Model.ForwardToken(ctx, id)
}

func finishStats(stats Stats, start time.Time) Stats {
	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}
	return stats
}

func safeReset(m Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Reset: %v", rec)
		}
	}()
	m.Reset()
	return nil
}

// SafeEncode converts a tokenizer panic into an error.
func SafeEncode(tok tokenizer.Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}
