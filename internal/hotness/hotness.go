// Package hotness tracks how often individual layers are requested.
package hotness

type Interface interface {
	Touch(layer string)
	Score(layer string) float64
	Forget(layers ...string)
}
