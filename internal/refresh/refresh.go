// Package refresh decides how a replica reacts when a layer changes.
package refresh

// HotnessView is the read-only slice of a hotness tracker the policy
// needs.
type HotnessView interface {
	Score(layer string) float64
}

type Action int

const (
	// ActionLazy leaves the layer alone; the next request recomputes.
	ActionLazy Action = iota
	// ActionWarm recomputes the layer's layout right away.
	ActionWarm
)

func (a Action) String() string {
	switch a {
	case ActionWarm:
		return "warm"
	default:
		return "lazy"
	}
}

type Reason string

const (
	ReasonWarmingDisabled Reason = "warming_disabled"
	ReasonColdLayer       Reason = "cold_layer"
	ReasonHotLayer        Reason = "hot_layer"
)

type Decider interface {
	Decide(layer string, view HotnessView) (Action, Reason)
}

// Simple warms a changed layer only while its hotness score sits at or
// above Threshold. Everything else stays lazy.
type Simple struct {
	Threshold float64
	Warming   bool
}

var _ Decider = Simple{}

func (d Simple) Decide(layer string, view HotnessView) (Action, Reason) {
	if !d.Warming {
		return ActionLazy, ReasonWarmingDisabled
	}
	if view == nil || view.Score(layer) < d.Threshold {
		return ActionLazy, ReasonColdLayer
	}
	return ActionWarm, ReasonHotLayer
}
