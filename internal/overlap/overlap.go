// Package overlap detects coincident points and redistributes them so each
// one renders visibly: spiderfy fans a coincident group out around its
// centroid along a widening ring, jitter nudges coordinates by a scale
// factor. All transforms are pure; inputs are never mutated.
package overlap

import (
	"fmt"

	"github.com/Berto-e/spiderfy/internal/geo"
)

// DetectDuplicates returns the order-preserving subsequence of points whose
// coordinate pair occurs two or more times in the input, compared by exact
// numeric equality on both components. Two-pass hash grouping, O(n).
func DetectDuplicates(points []geo.Point) []geo.Point {
	// ExactKeyer never fails.
	out, _ := DetectDuplicatesBy(points, ExactKeyer{})
	return out
}

// DetectDuplicatesBy is DetectDuplicates under a caller-chosen grouping
// policy.
func DetectDuplicatesBy(points []geo.Point, k Keyer) ([]geo.Point, error) {
	keys, counts, err := keyAll(points, k)
	if err != nil {
		return nil, err
	}
	out := make([]geo.Point, 0, len(points))
	for i, p := range points {
		if counts[keys[i]] >= 2 {
			out = append(out, p)
		}
	}
	return out, nil
}

// Groups partitions points into coincident groups (size >= 2, ordered by
// first appearance, members in input order) and the remaining unique
// points in input order.
func Groups(points []geo.Point, k Keyer) (groups [][]geo.Point, unique []geo.Point, err error) {
	keys, counts, err := keyAll(points, k)
	if err != nil {
		return nil, nil, err
	}
	unique = make([]geo.Point, 0, len(points))
	index := make(map[string]int)
	for i, p := range points {
		key := keys[i]
		if counts[key] < 2 {
			unique = append(unique, p)
			continue
		}
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, make([]geo.Point, 0, counts[key]))
		}
		groups[gi] = append(groups[gi], p)
	}
	return groups, unique, nil
}

// Resolve spiderfies every coincident group around its own centroid and
// passes unique points through untouched, preserving overall input order.
// The second return value counts the points that were part of a coincident
// group.
func Resolve(points []geo.Point, radius float64, k Keyer) ([]geo.Point, int, error) {
	keys, counts, err := keyAll(points, k)
	if err != nil {
		return nil, 0, err
	}

	// Indices per coincident key, so spiderfied members scatter back to
	// their original positions.
	members := make(map[string][]int)
	duplicates := 0
	for i := range points {
		if counts[keys[i]] >= 2 {
			members[keys[i]] = append(members[keys[i]], i)
			duplicates++
		}
	}

	out := make([]geo.Point, len(points))
	copy(out, points)
	for _, idx := range members {
		group := make([]geo.Point, len(idx))
		for j, i := range idx {
			group[j] = points[i]
		}
		laid, err := Spiderfy(group, radius)
		if err != nil {
			return nil, 0, err
		}
		for j, i := range idx {
			out[i] = laid[j]
		}
	}
	return out, duplicates, nil
}

func keyAll(points []geo.Point, k Keyer) ([]string, map[string]int, error) {
	keys := make([]string, len(points))
	counts := make(map[string]int, len(points))
	for i, p := range points {
		key, err := k.Key(p)
		if err != nil {
			return nil, nil, fmt.Errorf("key point %d: %w", i, err)
		}
		keys[i] = key
		counts[key]++
	}
	return keys, counts, nil
}
