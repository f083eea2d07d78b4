package poll

import (
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Pacer picks the wait before the next search.
type Pacer interface {
	Next() time.Duration
}

const (
	paceShape = 4.0
	paceScale = 0.25
	paceFloor = 250 * time.Millisecond
)

// GammaPacer draws waits from Gamma(shape 4, scale 0.25) seconds plus a 250ms floor, for a
// mean of 1.25s with no fixed period for the upstream to fingerprint.
type GammaPacer struct {
	mu   sync.Mutex
	dist distuv.Gamma
}

// NewGammaPacer seeds from src, or from the runtime's random source when src is nil.
func NewGammaPacer(src rand.Source) *GammaPacer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	// gonum parameterizes Gamma by rate
	return &GammaPacer{dist: distuv.Gamma{Alpha: paceShape, Beta: 1 / paceScale, Src: src}}
}

func (p *GammaPacer) Next() time.Duration {
	p.mu.Lock()
	s := p.dist.Rand()
	p.mu.Unlock()
	return paceFloor + time.Duration(s*float64(time.Second))
}

// FixedPacer always waits the same duration.
type FixedPacer time.Duration

func (f FixedPacer) Next() time.Duration { return time.Duration(f) }
