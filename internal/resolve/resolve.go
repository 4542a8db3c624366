// Package resolve turns stored layers into de-overlapped layouts,
// memoizing results in-process and sharing them through the Redis
// layout cache.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/Berto-e/spiderfy/internal/events"
	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/hotness"
	"github.com/Berto-e/spiderfy/internal/layerstore"
	"github.com/Berto-e/spiderfy/internal/observability"
	"github.com/Berto-e/spiderfy/internal/overlap"
)

// Where a resolved layout came from.
const (
	SourceMemo     = "memo"
	SourceCache    = "cache"
	SourceComputed = "computed"
)

// Params select how a layer is resolved.
type Params struct {
	Radius float64
	Keyer  string
}

// Meta describes one resolve result.
type Meta struct {
	Version    int64  `json:"version"`
	Duplicates int    `json:"duplicates"`
	Source     string `json:"source"`
}

// Publisher receives one event per store mutation. Publish must not
// block.
type Publisher interface {
	Publish(ev events.Event)
}

type memoKey struct {
	layer  string
	radius float64
	keyer  string
}

type memoEntry struct {
	layout layerstore.Layout
	ver    int64
	at     time.Time
}

// Service is the read/write surface over one layer store: mutations go
// through Put and Delete so invalidation and event publishing cannot
// be skipped, reads go through Resolve with a memo in front of the
// shared layout cache.
type Service struct {
	store *layerstore.PointStore
	cache *layerstore.LayoutCache
	memo  *lru.Cache[memoKey, memoEntry]

	hot hotness.Interface
	pub Publisher
	log zerolog.Logger

	ttl      func(layer string) time.Duration
	defaults Params
	memoSize int
	now      func() time.Time
}

type Option func(*Service)

// WithMemoSize caps the in-process memo entry count.
func WithMemoSize(n int) Option { return func(s *Service) { s.memoSize = n } }

// WithHotness wires a tracker that is touched on every resolve read.
func WithHotness(h hotness.Interface) Option { return func(s *Service) { s.hot = h } }

// WithPublisher wires the layer event publisher used on mutations.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithTTL sets the freshness horizon per layer. It bounds both the
// memo entry age and the layout cache TTL.
func WithTTL(f func(layer string) time.Duration) Option {
	return func(s *Service) {
		if f != nil {
			s.ttl = f
		}
	}
}

// WithDefaults sets the parameters Warm resolves with.
func WithDefaults(p Params) Option { return func(s *Service) { s.defaults = p } }

func New(store *layerstore.PointStore, cache *layerstore.LayoutCache, opts ...Option) (*Service, error) {
	if store == nil || cache == nil {
		return nil, errors.New("resolve: store and cache are required")
	}
	s := &Service{
		store:    store,
		cache:    cache,
		log:      zerolog.Nop(),
		ttl:      func(string) time.Duration { return time.Minute },
		defaults: Params{Radius: overlap.DefaultRadius, Keyer: "exact"},
		memoSize: 1024,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	if _, _, err := keyerFor(s.defaults.Keyer); err != nil {
		return nil, fmt.Errorf("resolve: default keyer: %w", err)
	}
	if !geo.Finite(s.defaults.Radius) {
		return nil, errors.New("resolve: default radius must be finite")
	}
	memo, err := lru.New[memoKey, memoEntry](s.memoSize)
	if err != nil {
		return nil, fmt.Errorf("resolve: memo: %w", err)
	}
	s.memo = memo
	return s, nil
}

// Resolve returns the de-overlapped layout of a layer, preferring the
// in-process memo, then the shared layout cache, then a fresh compute.
func (s *Service) Resolve(ctx context.Context, layer string, p Params) ([]geo.Point, Meta, error) {
	return s.resolve(ctx, layer, p, true)
}

// Warm recomputes a layer with the default parameters so the next read
// lands in the memo. Warming does not touch the hotness tracker, a
// warmed layer must not keep itself hot.
func (s *Service) Warm(ctx context.Context, layer string) error {
	_, _, err := s.resolve(ctx, layer, s.defaults, false)
	return err
}

func (s *Service) resolve(ctx context.Context, layer string, p Params, touch bool) ([]geo.Point, Meta, error) {
	start := time.Now()

	name, k, err := keyerFor(p.Keyer)
	if err != nil {
		return nil, Meta{}, err
	}
	if !geo.Finite(p.Radius) {
		return nil, Meta{}, fmt.Errorf("radius must be finite: %w", geo.ErrInvalidArgument)
	}
	spec := canonicalSpec(p.Keyer)

	if touch && s.hot != nil {
		s.hot.Touch(layer)
	}

	mk := memoKey{layer: layer, radius: p.Radius, keyer: spec}
	if e, ok := s.memo.Get(mk); ok && s.now().Sub(e.at) <= s.ttl(layer) {
		observability.ObserveResolve(SourceMemo, name, time.Since(start).Seconds())
		return e.layout.Points, Meta{Version: e.ver, Duplicates: e.layout.Duplicates, Source: SourceMemo}, nil
	}

	pts, ver, err := s.store.Get(ctx, layer)
	if err != nil {
		return nil, Meta{}, err
	}

	key := layerstore.LayoutKey(layer, ver, p.Radius, spec)
	l, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("layer", layer).Msg("layout cache read failed")
	} else if ok {
		s.memo.Add(mk, memoEntry{layout: l, ver: ver, at: s.now()})
		observability.ObserveResolve(SourceCache, name, time.Since(start).Seconds())
		return l.Points, Meta{Version: ver, Duplicates: l.Duplicates, Source: SourceCache}, nil
	}

	resolved, dups, err := overlap.Resolve(pts, p.Radius, k)
	if err != nil {
		return nil, Meta{}, err
	}
	l = layerstore.Layout{Points: resolved, Duplicates: dups}

	if err := s.cache.Set(ctx, key, l, s.ttl(layer)); err != nil {
		s.log.Warn().Err(err).Str("layer", layer).Msg("layout cache write failed")
	}
	s.memo.Add(mk, memoEntry{layout: l, ver: ver, at: s.now()})

	observability.AddDuplicatesDetected(dups)
	observability.ObserveResolve(SourceComputed, name, time.Since(start).Seconds())
	return l.Points, Meta{Version: ver, Duplicates: dups, Source: SourceComputed}, nil
}

// Put validates and stores a layer's full point set, invalidates local
// memos and announces the change.
func (s *Service) Put(ctx context.Context, layer string, pts []geo.Point) (int64, error) {
	if err := geo.ValidateAll(pts); err != nil {
		return 0, err
	}
	ver, err := s.store.Replace(ctx, layer, pts)
	if err != nil {
		return 0, err
	}
	s.Invalidate(layer)
	s.publish(events.New(events.OpReplace, layer, ver))
	s.log.Info().Str("layer", layer).Int64("version", ver).Int("points", len(pts)).Msg("layer replaced")
	return ver, nil
}

// Delete removes a layer, drops its memos and hotness, and announces
// the change.
func (s *Service) Delete(ctx context.Context, layer string) error {
	if err := s.store.Delete(ctx, layer); err != nil {
		return err
	}
	s.Invalidate(layer)
	if s.hot != nil {
		s.hot.Forget(layer)
	}
	s.publish(events.New(events.OpDelete, layer, 0))
	s.log.Info().Str("layer", layer).Msg("layer deleted")
	return nil
}

// Get returns a layer's stored points and version, unresolved.
func (s *Service) Get(ctx context.Context, layer string) ([]geo.Point, int64, error) {
	return s.store.Get(ctx, layer)
}

// GetMany returns the stored points of several layers, skipping
// missing ones.
func (s *Service) GetMany(ctx context.Context, layers []string) (map[string][]geo.Point, error) {
	return s.store.GetMany(ctx, layers)
}

// Invalidate drops every memoized layout of one layer and reports how
// many entries went away.
func (s *Service) Invalidate(layer string) int {
	n := 0
	for _, k := range s.memo.Keys() {
		if k.layer == layer && s.memo.Remove(k) {
			n++
		}
	}
	return n
}

func (s *Service) publish(ev events.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ev)
}

// keyerFor parses a keyer spec and returns the bounded-cardinality
// name used as a metrics label alongside the parsed keyer.
func keyerFor(spec string) (string, overlap.Keyer, error) {
	k, err := overlap.ParseKeyer(spec)
	if err != nil {
		return "", nil, err
	}
	name, _, _ := strings.Cut(strings.TrimSpace(spec), ":")
	if name == "" {
		name = "exact"
	}
	return name, k, nil
}

func canonicalSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "exact"
	}
	return spec
}
