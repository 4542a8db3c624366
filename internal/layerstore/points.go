package layerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/observability"
)

// ErrNotFound reports that a layer has no stored point set.
var ErrNotFound = errors.New("layer not found")

// PointStore is the canonical store for per-layer point sets. Every
// replace bumps the layer's version counter, so cache keys derived
// from an older set stop matching on their own.
type PointStore struct {
	c *Client
}

func NewPointStore(c *Client) *PointStore {
	return &PointStore{c: c}
}

// Replace stores the full point set for a layer and returns the new
// layer version.
func (s *PointStore) Replace(ctx context.Context, layer string, pts []geo.Point) (int64, error) {
	if pts == nil {
		pts = []geo.Point{}
	}
	body, err := json.Marshal(pts)
	if err != nil {
		return 0, fmt.Errorf("marshal %d points: %w", len(pts), err)
	}

	ver, err := s.c.SetAndIncr(ctx, PointsKey(layer), body, VersionKey(layer))
	if err != nil {
		return 0, fmt.Errorf("replace layer %q: %w", layer, err)
	}
	observability.SetLayerPoints(layer, len(pts))
	return ver, nil
}

// Get returns the stored point set and current version of a layer.
func (s *PointStore) Get(ctx context.Context, layer string) ([]geo.Point, int64, error) {
	pk, vk := PointsKey(layer), VersionKey(layer)
	raw, err := s.c.MGet(ctx, []string{pk, vk})
	if err != nil {
		return nil, 0, fmt.Errorf("get layer %q: %w", layer, err)
	}

	body, ok := raw[pk]
	if !ok {
		return nil, 0, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	var pts []geo.Point
	if err := json.Unmarshal(body, &pts); err != nil {
		return nil, 0, fmt.Errorf("unmarshal layer %q points: %w", layer, err)
	}

	var ver int64
	if vb, ok := raw[vk]; ok {
		ver, err = strconv.ParseInt(string(vb), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parse layer %q version: %w", layer, err)
		}
	}
	return pts, ver, nil
}

// GetMany fetches several layers in one round trip. Layers with no
// stored point set are left out of the result.
func (s *PointStore) GetMany(ctx context.Context, layers []string) (map[string][]geo.Point, error) {
	if len(layers) == 0 {
		return map[string][]geo.Point{}, nil
	}

	keys := make([]string, len(layers))
	for i, l := range layers {
		keys[i] = PointsKey(l)
	}
	raw, err := s.c.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get %d layers: %w", len(layers), err)
	}

	out := make(map[string][]geo.Point, len(raw))
	for i, l := range layers {
		body, ok := raw[keys[i]]
		if !ok {
			continue
		}
		var pts []geo.Point
		if err := json.Unmarshal(body, &pts); err != nil {
			return nil, fmt.Errorf("unmarshal layer %q points: %w", l, err)
		}
		out[l] = pts
	}
	return out, nil
}

// Delete removes a layer's point set. Deleting a missing layer is a
// no-op. The version counter is kept on purpose: a layer recreated
// under the same name must not reuse a version that cached layouts may
// still reference.
func (s *PointStore) Delete(ctx context.Context, layer string) error {
	if err := s.c.Del(ctx, PointsKey(layer)); err != nil {
		return fmt.Errorf("delete layer %q: %w", layer, err)
	}
	observability.ForgetLayer(layer)
	return nil
}
