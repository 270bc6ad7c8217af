package fmq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

const ackRecordSize = 4

// ErrQueueFull is returned by AckQueue.Write when no record slot is free.
var ErrQueueFull = errors.New("fmq: queue full")

// AckQueue carries counts of processed wake-up events from the consumer
// back to the proxy. Records are little-endian uint32 values framed into a
// byte ring.
type AckQueue struct {
	writeMu     sync.Mutex // the consumer and the proxy's shutdown sentinel both write
	readMu      sync.Mutex
	ring        *ringbuffer.RingBuffer
	dataWritten chan struct{}
}

// NewAckQueue creates an AckQueue holding up to capacity counts.
func NewAckQueue(capacity int) *AckQueue {
	if capacity <= 0 {
		panic("fmq: ack queue capacity must be > 0")
	}
	return &AckQueue{
		ring:        ringbuffer.New(capacity * ackRecordSize),
		dataWritten: make(chan struct{}, 1),
	}
}

// Capacity returns the number of counts the queue can hold.
func (q *AckQueue) Capacity() int {
	return q.ring.Capacity() / ackRecordSize
}

// Len returns the number of counts waiting to be read.
func (q *AckQueue) Len() int {
	return q.ring.Length() / ackRecordSize
}

// Write appends count and raises the data-written signal.
func (q *AckQueue) Write(count uint32) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	if q.ring.Capacity()-q.ring.Length() < ackRecordSize {
		return ErrQueueFull
	}

	var rec [ackRecordSize]byte
	binary.LittleEndian.PutUint32(rec[:], count)
	n, err := q.ring.Write(rec[:])
	if err != nil {
		return fmt.Errorf("fmq: ack write: %w", err)
	}
	if n != ackRecordSize {
		return fmt.Errorf("fmq: short ack write: %d of %d bytes", n, ackRecordSize)
	}

	signal(q.dataWritten)
	return nil
}

// ReadBlocking waits up to timeout for one count. The boolean is false on
// timeout.
func (q *AckQueue) ReadBlocking(timeout time.Duration) (uint32, bool) {
	q.readMu.Lock()
	defer q.readMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if count, ok := q.tryRead(); ok {
			return count, true
		}
		select {
		case <-q.dataWritten:
		case <-timer.C:
			return 0, false
		}
	}
}

func (q *AckQueue) tryRead() (uint32, bool) {
	if q.ring.Length() < ackRecordSize {
		return 0, false
	}

	var rec [ackRecordSize]byte
	n, err := q.ring.Read(rec[:])
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, false
	}
	if n != ackRecordSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(rec[:]), true
}

// Wake unblocks a pending ReadBlocking by writing a zero count. A full queue
// already has data for the reader, so a failed sentinel write is ignored.
func (q *AckQueue) Wake() {
	_ = q.Write(0)
	signal(q.dataWritten)
}
