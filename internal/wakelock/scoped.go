package wakelock

import (
	"sync"
	"sync/atomic"
)

// Scoped is a provider-facing wake-lock token. It satisfies sensors.WakeLock.
type Scoped struct {
	sup    *Supervisor
	hold   Hold
	locked atomic.Bool
	once   sync.Once
}

// IsLocked reports whether the token still holds a reference.
func (sc *Scoped) IsLocked() bool {
	return sc.locked.Load()
}

// Release drops the token's reference. Only the first call has an effect.
func (sc *Scoped) Release() {
	sc.once.Do(func() {
		if sc.locked.Swap(false) {
			sc.sup.DecrementHold(1, sc.hold)
		}
	})
}
