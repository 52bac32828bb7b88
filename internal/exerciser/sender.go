// Package exerciser runs publisher and subscriber roles against a broker.
package exerciser

import (
	"math"
	"math/rand/v2"

	"mqtt-exerciser/config"
)

// Sender is a publisher identity drawing integers from an inclusive range.
// It is not safe for concurrent use; each publisher owns one.
type Sender struct {
	ID  string
	Min int
	Max int

	rng *rand.Rand
}

// NewSender creates a sender for cfg. A zero seed picks a random one.
func NewSender(cfg config.SenderConfig, seed uint64) *Sender {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Sender{
		ID:  cfg.ID,
		Min: cfg.Min,
		Max: cfg.Max,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Draw returns a value in [Min, Max]
func (s *Sender) Draw() int {
	if s.Max <= s.Min {
		return s.Min
	}
	// The span is computed unsigned so the full int range does not overflow
	span := uint64(s.Max) - uint64(s.Min)
	var off uint64
	if span == math.MaxUint64 {
		off = s.rng.Uint64()
	} else {
		off = s.rng.Uint64N(span + 1)
	}
	return s.Min + int(off)
}
