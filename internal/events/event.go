// Package events defines the layer change events replicas exchange to
// keep their in-process caches coherent.
package events

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the wire schema this package reads and writes.
const SchemaVersion = 1

const (
	OpReplace = "replace"
	OpDelete  = "delete"
)

type Event struct {
	SchemaVersion int       `json:"schemaVersion"`
	Op            string    `json:"op"`
	Layer         string    `json:"layer"`
	LayerVersion  int64     `json:"layerVersion"`
	At            time.Time `json:"at"`
}

// New builds an event for one store mutation, stamped with the current
// time.
func New(op, layer string, layerVersion int64) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		Op:            op,
		Layer:         layer,
		LayerVersion:  layerVersion,
		At:            time.Now().UTC(),
	}
}

func (e Event) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schemaVersion must be %d", SchemaVersion)
	}
	switch e.Op {
	case OpReplace, OpDelete:
	default:
		return fmt.Errorf("op must be replace|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.Op == OpReplace && e.LayerVersion <= 0 {
		return fmt.Errorf("layerVersion must be positive for replace")
	}
	if e.At.IsZero() {
		return fmt.Errorf("at is required")
	}
	return nil
}
