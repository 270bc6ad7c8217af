package sensors

import (
	"io"
	"time"
)

// Provider is an independently implemented sensor module multiplexed behind
// the proxy. Handles passed to and returned by a Provider are provider-local:
// the proxy strips its own index bits before every call.
//
// Implementations must be safe for concurrent use; control calls arrive on
// the caller's goroutine while the provider posts events from its own.
type Provider interface {
	Name() string

	// SensorsList returns the provider's static sensors. The top byte of
	// every handle must be zero.
	SensorsList() ([]SensorInfo, error)

	SetOperationMode(mode OperationMode) error
	Activate(handle int32, enabled bool) error
	Batch(handle int32, samplingPeriod, maxReportLatency time.Duration) error
	Flush(handle int32) error
	InjectSensorData(event Event) error

	RegisterDirectChannel(mem SharedMemInfo) (int32, error)
	UnregisterDirectChannel(channel int32) error
	ConfigDirectReport(handle, channel int32, rate RateLevel) (int32, error)

	// Initialize hands the provider the callback it must use for events and
	// dynamic sensor changes. It may be called more than once; each call
	// replaces the previous callback.
	Initialize(cb Callback) error

	// Debug writes a free-form diagnostic dump.
	Debug(w io.Writer) error
}

// Callback is given to every Provider on Initialize.
type Callback interface {
	// PostEvents delivers events to the consumer. wl must be locked if and
	// only if at least one event comes from a wake-up sensor. Ownership of
	// wl passes to the callee, which releases it.
	PostEvents(events []Event, wl WakeLock)

	// CreateWakeLock returns a scoped wake-lock. When lock is true the system
	// wake-lock is held until the token is released.
	CreateWakeLock(lock bool) WakeLock

	OnDynamicSensorsConnected(added []SensorInfo)
	OnDynamicSensorsDisconnected(removed []int32)
}

// WakeLock is a scoped hold on the shared system wake-lock.
type WakeLock interface {
	IsLocked() bool
	// Release drops the hold. It is idempotent.
	Release()
}

// DynamicSensorsCallback is implemented by the consumer to learn about
// sensors that appear or disappear at runtime. Handles are proxy handles.
type DynamicSensorsCallback interface {
	OnDynamicSensorsConnected(added []SensorInfo)
	OnDynamicSensorsDisconnected(removed []int32)
}
