// Package writer delivers event batches to the outward event queue.
//
// A batch is written straight to the queue when nothing is pending and the
// queue has room. Whatever does not fit goes to a bounded FIFO backlog that
// a worker goroutine drains with blocking writes. Every wake-up event either
// reaches the queue, waits in the backlog, or has its wake-lock reference
// returned to the supervisor.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/fmq"
	"github.com/srg/sensormux/internal/groutine"
	"github.com/srg/sensormux/internal/metrics"
	"github.com/srg/sensormux/internal/wakelock"
	"github.com/srg/sensormux/pkg/sensors"
)

const (
	// DefaultMaxPendingEvents bounds the total number of backlogged events.
	DefaultMaxPendingEvents = 64 * 1024

	// DefaultWriteTimeout bounds a single blocking write from the backlog.
	DefaultWriteTimeout = 5 * time.Second
)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// Options configures a Writer.
type Options struct {
	MaxPendingEvents int
	WriteTimeout     time.Duration

	// IsWakeUp classifies an event by its proxy handle. Nil means no event
	// is a wake-up event.
	IsWakeUp func(handle int32) bool

	Logger  *logrus.Logger
	Metrics *metrics.Collector
}

// Stats is a point-in-time view of the backlog.
type Stats struct {
	Running   bool
	Queued    int // events in the backlog
	HighWater int // most events ever in the backlog
	Batches   int
	FrontSize int // events in the oldest batch, 0 when empty
}

type batch struct {
	events  []sensors.Event
	wakeups int
	hold    wakelock.Hold
	held    bool // wakeups were counted against the supervisor under hold
}

// Writer owns the pending backlog and its drain worker.
type Writer struct {
	sup          *wakelock.Supervisor
	maxPending   int
	writeTimeout time.Duration
	isWakeUp     func(int32) bool
	logger       *logrus.Logger
	metrics      *metrics.Collector

	running atomic.Bool

	mu        sync.Mutex
	events    *fmq.EventQueue
	queue     []batch
	queued    int
	highWater int

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped Writer that counts wake-up events against sup.
func New(sup *wakelock.Supervisor, opts Options) *Writer {
	if opts.MaxPendingEvents <= 0 {
		opts.MaxPendingEvents = DefaultMaxPendingEvents
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.IsWakeUp == nil {
		opts.IsWakeUp = func(int32) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger
	}

	return &Writer{
		sup:          sup,
		maxPending:   opts.MaxPendingEvents,
		writeTimeout: opts.WriteTimeout,
		isWakeUp:     opts.IsWakeUp,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		wake:         make(chan struct{}, 1),
	}
}

// Start binds the outward queue and launches the drain worker. It is a no-op
// if the worker is already running.
func (w *Writer) Start(events *fmq.EventQueue) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	w.mu.Lock()
	w.events = events
	w.mu.Unlock()

	stop := make(chan struct{})
	w.stop = stop
	groutine.Go(context.Background(), "sensormux-pending-writes", &w.wg, func(ctx context.Context) {
		w.run(ctx, stop)
	})
}

// Stop signals the worker, drains the outward queue so an in-flight blocking
// write completes, and waits for the worker to exit. The backlog is kept;
// see Reset.
func (w *Writer) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)

	w.mu.Lock()
	events := w.events
	w.mu.Unlock()
	if events != nil {
		events.Drain()
	}

	w.wg.Wait()
}

// Reset empties the backlog. Call it only while the worker is stopped.
func (w *Writer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.queue = nil
	w.queued = 0
	w.metrics.SetPendingEvents(0)
}

// Post delivers events whose wake-up count is wakeups. When locked is set the
// wake-ups are counted against the supervisor until the consumer
// acknowledges them or they are dropped.
func (w *Writer) Post(events []sensors.Event, wakeups int, locked bool) {
	if len(events) == 0 || !w.running.Load() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	q := w.events
	if q == nil {
		return
	}

	var hold wakelock.Hold
	held := false
	if locked && wakeups > 0 {
		hold, held = w.sup.Increment(wakeups)
	}

	written := 0
	if len(w.queue) == 0 {
		n := min(len(events), q.AvailableToWrite())
		if n > 0 && q.Write(events[:n]) {
			written = n
			w.metrics.AddEventsWritten(metrics.PathDirect, n)
		}
	}
	if written == len(events) {
		return
	}

	rest := events[written:]
	restWakeups := wakeups
	if written > 0 {
		restWakeups = w.countWakeUps(rest)
	}

	if w.queued+len(rest) > w.maxPending {
		w.logger.WithFields(logrus.Fields{
			"dropped":     len(rest),
			"wakeups":     restWakeups,
			"queued":      w.queued,
			"max_pending": w.maxPending,
		}).Warn("Pending write backlog full, dropping events")
		w.metrics.AddEventsDropped(metrics.DropQueueFull, len(rest))
		if held && restWakeups > 0 {
			w.sup.DecrementHold(restWakeups, hold)
		}
		return
	}

	pending := make([]sensors.Event, len(rest))
	copy(pending, rest)
	w.queue = append(w.queue, batch{events: pending, wakeups: restWakeups, hold: hold, held: held})
	w.queued += len(pending)
	if w.queued > w.highWater {
		w.highWater = w.queued
		w.metrics.SetPendingHighWater(w.highWater)
	}
	w.metrics.SetPendingEvents(w.queued)

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns the current backlog state.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Stats{
		Running:   w.running.Load(),
		Queued:    w.queued,
		HighWater: w.highWater,
		Batches:   len(w.queue),
	}
	if len(w.queue) > 0 {
		st.FrontSize = len(w.queue[0].events)
	}
	return st
}

func (w *Writer) countWakeUps(events []sensors.Event) int {
	n := 0
	for _, ev := range events {
		if w.isWakeUp(ev.SensorHandle) {
			n++
		}
	}
	return n
}

func (w *Writer) run(ctx context.Context, stop <-chan struct{}) {
	defer w.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	for {
		w.mu.Lock()
		for len(w.queue) == 0 {
			w.mu.Unlock()
			select {
			case <-stop:
				return
			case <-w.wake:
			}
			w.mu.Lock()
		}

		select {
		case <-stop:
			w.mu.Unlock()
			return
		default:
		}

		front := w.queue[0]
		q := w.events
		n := min(len(front.events), q.Quantum())
		chunk := front.events[:n]
		w.mu.Unlock()

		chunkWakeups := front.wakeups
		if n < len(front.events) {
			chunkWakeups = w.countWakeUps(chunk)
		}

		if q.WriteBlocking(chunk, w.writeTimeout) {
			w.metrics.AddEventsWritten(metrics.PathPending, n)
		} else {
			w.logger.WithFields(logrus.Fields{
				"dropped": n,
				"wakeups": chunkWakeups,
				"timeout": w.writeTimeout,
			}).Error("Blocking write failed, dropping events")
			w.metrics.AddEventsDropped(metrics.DropWriteTimeout, n)
			if front.held && chunkWakeups > 0 {
				w.sup.DecrementHold(chunkWakeups, front.hold)
			}
		}

		w.mu.Lock()
		if len(w.queue) > 0 {
			if n < len(w.queue[0].events) {
				w.queue[0].events = w.queue[0].events[n:]
				w.queue[0].wakeups -= chunkWakeups
			} else {
				w.queue[0] = batch{}
				w.queue = w.queue[1:]
			}
			w.queued -= n
			w.metrics.SetPendingEvents(w.queued)
		}
		w.mu.Unlock()
	}
}
