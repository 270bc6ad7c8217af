// Package fmq provides the two bounded queues shared between the proxy and
// its consumer: the event queue (proxy writes, consumer reads) and the
// acknowledgement queue (consumer writes wake-up counts, proxy reads).
//
// Both queues are single-writer, single-reader. Blocking operations are built
// from a non-blocking core plus a signal channel per direction, so a blocked
// side can always be woken by the other.
package fmq

import (
	"time"

	"github.com/srg/sensormux/pkg/sensors"
)

// EventQueue is a bounded event channel with FMQ-like semantics.
//
// Writers use Write (non-blocking, all-or-nothing) or WriteBlocking (waits
// for room up to a timeout). Readers use Read, ReadBlocking or watch
// DataAvailable. Every successful write raises the read-and-process signal;
// every successful read raises the events-read signal.
type EventQueue struct {
	ch             chan sensors.Event
	readAndProcess chan struct{} // writer -> reader
	eventsRead     chan struct{} // reader -> writer
}

// NewEventQueue creates an EventQueue holding up to capacity events.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		panic("fmq: event queue capacity must be > 0")
	}
	return &EventQueue{
		ch:             make(chan sensors.Event, capacity),
		readAndProcess: make(chan struct{}, 1),
		eventsRead:     make(chan struct{}, 1),
	}
}

// Quantum returns the largest number of events a single write may carry.
func (q *EventQueue) Quantum() int {
	return cap(q.ch)
}

// AvailableToWrite returns the number of free slots.
func (q *EventQueue) AvailableToWrite() int {
	return cap(q.ch) - len(q.ch)
}

// AvailableToRead returns the number of queued events.
func (q *EventQueue) AvailableToRead() int {
	return len(q.ch)
}

// Write appends all events without blocking. It writes nothing and returns
// false when they do not fit.
func (q *EventQueue) Write(events []sensors.Event) bool {
	if len(events) == 0 {
		return true
	}
	if len(events) > q.AvailableToWrite() {
		return false
	}
	for _, ev := range events {
		select {
		case q.ch <- ev:
		default:
			// unreachable with a single writer
			return false
		}
	}
	signal(q.readAndProcess)
	return true
}

// WriteBlocking waits until all events fit, then writes them. It returns
// false if timeout elapses first or if the batch exceeds the queue capacity.
func (q *EventQueue) WriteBlocking(events []sensors.Event, timeout time.Duration) bool {
	if len(events) > q.Quantum() {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if q.Write(events) {
			return true
		}
		select {
		case <-q.eventsRead:
		case <-timer.C:
			return false
		}
	}
}

// Read removes up to limit events without blocking.
func (q *EventQueue) Read(limit int) []sensors.Event {
	n := len(q.ch)
	if limit < n {
		n = limit
	}
	if n <= 0 {
		return nil
	}

	out := make([]sensors.Event, 0, n)
loop:
	for len(out) < n {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			break loop
		}
	}
	signal(q.eventsRead)
	return out
}

// ReadBlocking waits up to timeout for at least one event and returns up to
// limit events. It returns nil on timeout.
func (q *EventQueue) ReadBlocking(limit int, timeout time.Duration) []sensors.Event {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if evs := q.Read(limit); len(evs) > 0 {
			return evs
		}
		select {
		case <-q.readAndProcess:
		case <-timer.C:
			return nil
		}
	}
}

// DataAvailable is signalled after every successful write.
func (q *EventQueue) DataAvailable() <-chan struct{} {
	return q.readAndProcess
}

// Drain discards every queued event and wakes a blocked writer. It returns
// the number of events discarded.
func (q *EventQueue) Drain() int {
	drained := 0
	for {
		select {
		case <-q.ch:
			drained++
		default:
			signal(q.eventsRead)
			return drained
		}
	}
}

// signal raises a one-slot edge; repeated signals before a wait collapse into one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
