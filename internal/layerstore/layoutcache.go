package layerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/observability"
)

// Layout is one resolved result for a layer version and parameter set:
// the de-overlapped points plus how many duplicates the resolve found.
type Layout struct {
	Points     []geo.Point `json:"points"`
	Duplicates int         `json:"duplicates"`
}

// LayoutCache shares resolved layouts between replicas through Redis.
// Entries carry the layer version in their key (see LayoutKey), so a
// replace never serves a stale layout; old entries simply age out.
type LayoutCache struct {
	c          *Client
	defaultTTL time.Duration
}

func NewLayoutCache(c *Client, defaultTTL time.Duration) *LayoutCache {
	return &LayoutCache{c: c, defaultTTL: defaultTTL}
}

// Get returns the cached layout under key, if any.
func (lc *LayoutCache) Get(ctx context.Context, key string) (Layout, bool, error) {
	body, found, err := lc.c.Get(ctx, key)
	if err != nil {
		return Layout{}, false, fmt.Errorf("layout get %q: %w", key, err)
	}
	if !found {
		observability.IncLayoutCacheMiss()
		return Layout{}, false, nil
	}

	var l Layout
	if err := json.Unmarshal(body, &l); err != nil {
		observability.IncLayoutCacheMiss()
		return Layout{}, false, fmt.Errorf("unmarshal layout %q: %w", key, err)
	}
	observability.IncLayoutCacheHit()
	return l, true, nil
}

// Set caches a layout under key. A non-positive ttl falls back to the
// cache default.
func (lc *LayoutCache) Set(ctx context.Context, key string, l Layout, ttl time.Duration) error {
	t := ttl
	if t <= 0 {
		t = lc.defaultTTL
	}
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal layout %q: %w", key, err)
	}
	if err := lc.c.Set(ctx, key, body, t); err != nil {
		return fmt.Errorf("layout set %q: %w", key, err)
	}
	return nil
}
