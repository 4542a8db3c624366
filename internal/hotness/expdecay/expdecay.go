// Package expdecay scores layer hotness with an exponential decay model.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Berto-e/spiderfy/internal/hotness"
)

const numShards = 32

// Tracker keeps one decaying counter per layer. Every touch adds one
// to the score after decaying what accumulated so far, so a layer that
// stops being requested fades toward zero with the configured half-life.
type Tracker struct {
	HalfLife time.Duration

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Touch(layer string) {
	if layer == "" {
		return
	}
	s := t.pick(layer)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[layer]
	if c == nil {
		s.m[layer] = &counter{score: 1, last: n}
		return
	}
	dt := n.Sub(c.last).Seconds()
	// decay the existing score before adding the new touch
	c.score = decay(c.score, dt, t.HalfLife.Seconds()) + 1.0
	c.last = n
}

func (t *Tracker) Score(layer string) float64 {
	if layer == "" {
		return 0
	}
	s := t.pick(layer)
	n := t.now()

	s.mu.RLock()
	c := s.m[layer]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	dt := n.Sub(last).Seconds()
	return decay(score, dt, t.HalfLife.Seconds())
}

func (t *Tracker) Forget(layers ...string) {
	for _, layer := range layers {
		if layer == "" {
			continue
		}
		s := t.pick(layer)
		s.mu.Lock()
		delete(s.m, layer)
		s.mu.Unlock()
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	lambda := math.Ln2 / halfLife
	// e^(-λt)
	return score * math.Exp(-lambda*dt)
}

func (t *Tracker) pick(layer string) *shard {
	h := xxhash.Sum64String(layer)
	idx := h & (uint64(len(t.shards)) - 1)
	return &t.shards[idx]
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}
