// Package wakelock reference-counts in-flight wake-up events and holds the
// shared system wake-lock while any are outstanding.
//
// The count rises when wake-up events are handed to the outward queue and
// falls when the consumer acknowledges them through the ack queue, when
// they are dropped before delivery, or when the hold times out. A timeout
// resets the count to zero and starts a new epoch; decrements tied to a hold
// from an earlier epoch are ignored so late acknowledgements cannot eat into
// a newer hold.
package wakelock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/fmq"
	"github.com/srg/sensormux/internal/groutine"
	"github.com/srg/sensormux/internal/metrics"
)

const (
	// DefaultName is the system wake-lock name.
	DefaultName = "SensorsHAL_WAKEUP"

	// DefaultTimeout bounds how long a hold may go unacknowledged.
	DefaultTimeout = time.Second

	DefaultHistorySize = 32
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// Hold identifies the epoch under which a reference was taken.
type Hold struct {
	Start time.Time
	epoch uint64
}

// Options configures a Supervisor.
type Options struct {
	Name        string
	Timeout     time.Duration
	Locker      Locker
	HistorySize uint32
	Logger      *logrus.Logger
	Metrics     *metrics.Collector
}

// Stats is a point-in-time view of the wake-lock state.
type Stats struct {
	Running   bool
	RefCount  int
	Held      bool
	HoldStart time.Time
	ResetAt   time.Time
}

// Supervisor owns the wake-lock reference count and the worker goroutine
// that consumes acknowledgements and enforces the hold timeout.
type Supervisor struct {
	name    string
	timeout time.Duration
	locker  Locker
	logger  *logrus.Logger
	metrics *metrics.Collector
	history *History

	running atomic.Bool

	mu        sync.Mutex
	refCount  int
	holdStart time.Time
	resetAt   time.Time
	epoch     uint64

	kick chan struct{} // raised on the zero-to-positive transition
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped Supervisor.
func New(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Locker == nil {
		opts.Locker = NopLocker{}
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger
	}

	now := time.Now()
	return &Supervisor{
		name:      opts.Name,
		timeout:   opts.Timeout,
		locker:    opts.Locker,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		history:   NewHistory(opts.HistorySize),
		holdStart: now,
		resetAt:   now,
		kick:      make(chan struct{}, 1),
	}
}

// Start launches the worker reading acknowledgements from acks. It is a
// no-op if the worker is already running.
func (s *Supervisor) Start(acks *fmq.AckQueue) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	groutine.Go(context.Background(), "sensormux-wakelock", &s.wg, func(ctx context.Context) {
		s.run(ctx, stop, acks)
	})
}

// Stop signals the worker, unblocks its pending read through acks and waits
// for it to exit. The reference count is left as is; see Reset.
func (s *Supervisor) Stop(acks *fmq.AckQueue) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	if acks != nil {
		acks.Wake()
	}
	s.wg.Wait()
}

// Running reports whether the worker is active.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Increment adds delta references, acquiring the system lock on the
// zero-to-positive transition. It returns false, taking nothing, when the
// supervisor is stopped.
func (s *Supervisor) Increment(delta int) (Hold, bool) {
	if !s.running.Load() {
		return Hold{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refCount == 0 {
		if err := s.locker.Acquire(s.name); err != nil {
			s.logger.WithError(err).WithField("name", s.name).Error("Failed to acquire wake-lock")
		}
		s.history.Record(Transition{At: time.Now(), Kind: TransitionAcquire})
		s.metrics.WakeLockTransition(metrics.WakeLockAcquire)
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	s.holdStart = time.Now()
	if delta > 0 {
		s.refCount += delta
	}
	s.metrics.SetWakeLockRefs(s.refCount)

	return Hold{Start: s.holdStart, epoch: s.epoch}, true
}

// Decrement removes up to delta references from the current hold.
func (s *Supervisor) Decrement(delta int) {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(delta)
}

// DecrementHold removes up to delta references taken under h. It is ignored
// when h predates the last reset.
func (s *Supervisor) DecrementHold(delta int, h Hold) {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.epoch < s.epoch {
		s.logger.WithFields(logrus.Fields{
			"delta":      delta,
			"hold_start": h.Start,
			"reset_at":   s.resetAt,
		}).Debug("Ignoring stale wake-lock decrement")
		return
	}
	s.releaseLocked(delta)
}

// Reset drops every reference and starts a new epoch. Unlike Decrement it
// works while the supervisor is stopped.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(TransitionReset)
}

func (s *Supervisor) resetLocked(kind TransitionKind) {
	if s.refCount > 0 {
		s.history.Record(Transition{At: time.Now(), Kind: kind, RefCount: s.refCount})
	}
	s.releaseLocked(s.refCount)
	s.resetAt = time.Now()
	s.epoch++
}

func (s *Supervisor) releaseLocked(delta int) {
	if s.refCount == 0 || delta <= 0 {
		return
	}
	if delta > s.refCount {
		delta = s.refCount
	}
	before := s.refCount
	s.refCount -= delta
	s.metrics.SetWakeLockRefs(s.refCount)

	if s.refCount == 0 {
		if err := s.locker.Release(s.name); err != nil {
			s.logger.WithError(err).WithField("name", s.name).Error("Failed to release wake-lock")
		}
		s.history.Record(Transition{At: time.Now(), Kind: TransitionRelease, RefCount: before})
		s.metrics.WakeLockTransition(metrics.WakeLockRelease)
	}
}

// Stats returns the current state.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:   s.running.Load(),
		RefCount:  s.refCount,
		Held:      s.refCount > 0,
		HoldStart: s.holdStart,
		ResetAt:   s.resetAt,
	}
}

// History returns the retained wake-lock transitions, oldest first.
func (s *Supervisor) History() []Transition {
	return s.history.Snapshot()
}

// NewScoped returns a scoped token. With lock set and the supervisor
// running, the token holds one reference until Release.
func (s *Supervisor) NewScoped(lock bool) *Scoped {
	sc := &Scoped{sup: s}
	if lock {
		if h, ok := s.Increment(1); ok {
			sc.hold = h
			sc.locked.Store(true)
		}
	}
	return sc
}

func (s *Supervisor) run(ctx context.Context, stop <-chan struct{}, acks *fmq.AckQueue) {
	defer s.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	for {
		s.mu.Lock()
		for s.refCount == 0 {
			s.mu.Unlock()
			select {
			case <-stop:
				return
			case <-s.kick:
			}
			s.mu.Lock()
		}

		select {
		case <-stop:
			s.mu.Unlock()
			return
		default:
		}

		held := time.Since(s.holdStart)
		if held > s.timeout {
			s.logger.WithFields(logrus.Fields{
				"ref_count": s.refCount,
				"held":      held,
			}).Warn("Wake-lock hold timed out, forcing release")
			s.metrics.WakeLockTransition(metrics.WakeLockTimeout)
			s.resetLocked(TransitionTimeout)
			s.mu.Unlock()
			continue
		}
		remaining := s.timeout - held
		s.mu.Unlock()

		count, ok := acks.ReadBlocking(remaining)
		if ok && count > 0 {
			s.Decrement(int(count))
		}
	}
}
