// Package health serves the liveness and readiness endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	// Readiness reports whether the process can serve traffic and, when it
	// cannot, which dependencies it is still waiting on.
	Readiness() (ready bool, waitingOn []string)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status    string   `json:"status"`
			WaitingOn []string `json:"waitingOn,omitempty"`
		}
		ready, waiting := rr.Readiness()
		out := resp{Status: "ready"}
		if !ready {
			out.Status = "not_ready"
			out.WaitingOn = waiting
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

// Reporter tracks named dependencies, each starting not-ready.
type Reporter struct {
	mu    sync.RWMutex
	ready map[string]bool
	order []string
}

func NewReporter(deps ...string) *Reporter {
	r := &Reporter{ready: make(map[string]bool, len(deps))}
	for _, d := range deps {
		r.ready[d] = false
		r.order = append(r.order, d)
	}
	return r
}

func (r *Reporter) SetReady(dep string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.ready[dep]; known {
		r.ready[dep] = ok
	}
}

func (r *Reporter) Readiness() (bool, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var waiting []string
	for _, d := range r.order {
		if !r.ready[d] {
			waiting = append(waiting, d)
		}
	}
	return len(waiting) == 0, waiting
}
