package serverstate

import (
	"sync/atomic"

	"github.com/total-shambles/yank/internal/metrics"
)

var state atomic.Value
var draining atomic.Bool
var inFlight atomic.Int64

func init() {
	state.Store("not_ready")
}

// SetState sets the server state string.
func SetState(s string) {
	state.Store(s)
}

// GetState returns the current server state.
func GetState() string {
	if v, ok := state.Load().(string); ok {
		return v
	}
	return "unknown"
}

// StartDrain marks the server as draining. New relay calls are refused from
// then on while calls already in flight run to completion.
func StartDrain() {
	draining.Store(true)
	SetState("draining")
}

// Resume cancels a drain started by StartDrain.
func Resume() {
	draining.Store(false)
	SetState("ready")
}

// IsDraining reports whether the server is draining.
func IsDraining() bool {
	return draining.Load()
}

// Begin records the start of a relay call and returns the function that
// records its end.
func Begin() func() {
	metrics.SetInFlight(inFlight.Add(1))
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			metrics.SetInFlight(inFlight.Add(-1))
		}
	}
}

// InFlight returns the number of relay calls in progress.
func InFlight() int64 {
	return inFlight.Load()
}

func reset() {
	draining.Store(false)
	inFlight.Store(0)
	SetState("not_ready")
}
