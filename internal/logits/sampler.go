package logits

import (
	"math"
	"math/rand"
	"sort"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	// TopK limits sampling to the k most likely tokens. Zero keeps the whole
	// vocabulary.
	TopK          int
	TopP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	order []int
	prob  []float64
}

// NewSampler returns a new sampler with the provided configuration.
// A non-positive temperature selects greedy decoding.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy || cfg.TopK == 1,
	}
}

func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws one token id from logits. The slice is modified in place when
// a repetition penalty applies.
//
//  1. Tokens in the last RepeatLastN entries of recent are penalised.
//  2. Greedy samplers return the argmax.
//  3. Logits are scaled by 1/temperature, sorted, and optionally cut to TopK.
//  4. The softmax over the shortlist is truncated once its cumulative mass
//     reaches TopP, and one index is drawn from what remains.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if len(logits) == 0 {
		return 0
	}
	s.penalise(logits, recent)

	if s.greedy {
		return argmax(logits)
	}

	if cap(s.order) < len(logits) {
		s.order = make([]int, len(logits))
	}
	order := s.order[:len(logits)]
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return logits[order[a]] > logits[order[b]] })
	if s.cfg.TopK > 0 && s.cfg.TopK < len(order) {
		order = order[:s.cfg.TopK]
	}

	if cap(s.prob) < len(order) {
		s.prob = make([]float64, len(order))
	}
	prob := s.prob[:len(order)]
	invTemp := 1 / float64(s.cfg.Temperature)
	maxv := float64(logits[order[0]]) * invTemp
	var sum float64
	for i, id := range order {
		e := math.Exp(float64(logits[id])*invTemp - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return order[0]
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i] / sum
			if c >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
	}
	var kept float64
	for i := 0; i < cut; i++ {
		kept += prob[i]
	}

	r := s.rng.Float64() * kept
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r < c {
			return order[i]
		}
	}
	return order[cut-1]
}

func (s *Sampler) penalise(logits []float32, recent []int) {
	if s.cfg.RepeatPenalty <= 1.0 || len(recent) == 0 {
		return
	}
	window := recent[max(len(recent)-s.cfg.RepeatLastN, 0):]
	seen := make(map[int]struct{}, len(window))
	for _, id := range window {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// argmax returns the index of the maximum value in the slice. If the slice is empty it panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
