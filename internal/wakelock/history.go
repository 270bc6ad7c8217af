package wakelock

import (
	"sync"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// TransitionKind names a wake-lock state change.
type TransitionKind string

const (
	TransitionAcquire TransitionKind = "acquire"
	TransitionRelease TransitionKind = "release"
	TransitionTimeout TransitionKind = "timeout"
	TransitionReset   TransitionKind = "reset"
)

// Transition is one entry of the wake-lock history.
type Transition struct {
	At       time.Time
	Kind     TransitionKind
	RefCount int // reference count before the transition
}

// History keeps the most recent wake-lock transitions. Older entries are
// overwritten once the ring is full.
type History struct {
	mu          sync.Mutex
	ring        mpmc.RichOverlappedRingBuffer[Transition]
	overwritten uint64
}

// NewHistory creates a history holding at least size entries. The ring
// rounds its capacity up to a power of two.
func NewHistory(size uint32) *History {
	if size == 0 {
		size = 1
	}
	return &History{ring: mpmc.NewOverlappedRingBuffer[Transition](size)}
}

// Record appends t, evicting the oldest entry if the ring is full.
func (h *History) Record(t Transition) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	overwrites, err := h.ring.EnqueueM(t)
	if err == nil {
		h.overwritten += uint64(overwrites)
	}
}

// Snapshot returns the retained transitions, oldest first, without
// consuming them.
func (h *History) Snapshot() []Transition {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Transition
	for !h.ring.IsEmpty() {
		t, err := h.ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, t)
	}
	for _, t := range out {
		_, _ = h.ring.EnqueueM(t)
	}
	return out
}

// Overwritten returns how many transitions were evicted.
func (h *History) Overwritten() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overwritten
}
