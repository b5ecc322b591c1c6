package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64   `yaml:"seed" json:"seed"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	TopK        int     `yaml:"top_k" json:"top_k"`
	TopP        float32 `yaml:"top_p" json:"top_p"`
	// RepeatPenalty > 1 divides positive (multiplies negative) logits of
	// tokens seen in the last RepeatLastN ids.
	RepeatPenalty float32 `yaml:"repeat_penalty" json:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n" json:"repeat_last_n"`
}

// Sampler picks the next token id from a logits vector. It is not safe for
// concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	scratch []float32
	topIdx  []int
	topVal  []float32
	prob    []float64
	seen    map[int]struct{}
}

// NewSampler returns a new sampler with the provided configuration.
// Temperature <= 0 selects greedy decoding.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if greedy {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
		seen:   make(map[int]struct{}),
	}
}

// Config returns the effective configuration after defaults.
func (s *Sampler) Config() SamplerConfig { return s.cfg }

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single index from logits. logits is not modified; recent
// holds the ids generated so far for the repetition penalty.
//
//  1. Penalise recently seen ids.
//  2. Greedy samplers return the argmax.
//  3. Scale by 1/temperature and keep the TopK largest values.
//  4. Softmax over the shortlist, truncated at cumulative TopP.
//  5. Draw from the truncated distribution.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if len(logits) == 0 {
		return -1
	}
	x := logits
	if s.cfg.RepeatPenalty > 1 && len(recent) > 0 {
		x = s.penalise(logits, recent)
	}

	if s.greedy || (s.cfg.TopK == 1 && s.cfg.TopP >= 1) {
		return argmax(x)
	}

	k := min(s.cfg.TopK, len(x))
	topIdx, topVal := s.topK(x, k, 1/s.cfg.Temperature)

	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	maxv := topVal[0]
	var sum float64
	for i, v := range topVal {
		e := math.Exp(float64(v - maxv))
		prob[i] = e
		sum += e
	}
	for i := range prob {
		prob[i] /= sum
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i, p := range prob {
			c += p
			if c >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
	}

	var mass float64
	for _, p := range prob[:cut] {
		mass += p
	}
	r := s.rng.Float64() * mass
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r < c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

func (s *Sampler) penalise(logits []float32, recent []int) []float32 {
	if cap(s.scratch) < len(logits) {
		s.scratch = make([]float32, len(logits))
	}
	x := s.scratch[:len(logits)]
	copy(x, logits)

	clear(s.seen)
	start := max(len(recent)-s.cfg.RepeatLastN, 0)
	for _, id := range recent[start:] {
		if id < 0 || id >= len(x) {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		if x[id] > 0 {
			x[id] /= s.cfg.RepeatPenalty
		} else {
			x[id] *= s.cfg.RepeatPenalty
		}
	}
	return x
}

func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// topK returns the indices and values of the k largest elements of logits,
// scaled by invTemp, ordered from largest to smallest. O(V*K), fine for the
// small k used in sampling.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, l := range logits {
		v := l * invTemp
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v
		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
