// Package pool holds pooled timers and frame buffers for the per-byte reads of
// the protocol engines.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a timer that fires after d. Return it with PutTimer.
//
// Stop and Reset discard a pending tick, so a pooled timer never delivers a
// stale value to its next user.
func GetTimer(d time.Duration) *time.Timer {
	if t, ok := timers.Get().(*time.Timer); ok {
		t.Reset(d)
		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	t.Stop()
	timers.Put(t)
}
