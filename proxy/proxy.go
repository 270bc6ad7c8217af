// Package proxy multiplexes any number of sensor providers behind a single
// consumer-facing device.
//
// Each provider gets an index equal to its position in the list handed to
// New. That index is packed into the top byte of every sensor handle the
// consumer sees, so control calls can be routed back to the owning provider
// and events can be told apart on the shared outward queue.
package proxy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/fmq"
	"github.com/srg/sensormux/internal/handle"
	"github.com/srg/sensormux/internal/metrics"
	"github.com/srg/sensormux/internal/wakelock"
	"github.com/srg/sensormux/internal/writer"
	"github.com/srg/sensormux/pkg/sensors"
)

// State is the lifecycle state of a Proxy.
type State uint32

const (
	StateUninitialized State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// Options configures a Proxy. Zero values select the package defaults of
// the wakelock and writer packages.
type Options struct {
	WakeLockName        string
	WakeLockTimeout     time.Duration
	WakeLockHistorySize uint32
	Locker              wakelock.Locker

	MaxPendingEvents    int
	PendingWriteTimeout time.Duration

	Logger  *logrus.Logger
	Metrics *metrics.Collector
}

type providerEntry struct {
	provider sensors.Provider
	callback *providerCallback
}

// Proxy presents a list of providers as one sensor device.
type Proxy struct {
	logger  *logrus.Logger
	metrics *metrics.Collector

	providers []providerEntry
	catalog   *catalog
	direct    int // index of the direct-channel provider, -1 if none

	sup    *wakelock.Supervisor
	writer *writer.Writer

	state atomic.Uint32

	// lifecycleMu serializes Initialize and Close.
	lifecycleMu sync.Mutex
	events      *fmq.EventQueue
	acks        *fmq.AckQueue

	modeMu sync.Mutex
	mode   sensors.OperationMode

	consumerMu sync.RWMutex
	consumer   sensors.DynamicSensorsCallback
}

// New builds a Proxy over providers, in order. It collects every provider's
// static sensors and elects the first provider that reports a direct-channel
// capable sensor as the only direct-channel provider. The Proxy starts
// Uninitialized; call Initialize before use.
func New(providers []sensors.Provider, opts Options) (*Proxy, error) {
	if len(providers) > handle.MaxProviders {
		return nil, fmt.Errorf("%w: %d providers, at most %d supported", sensors.ErrBadValue, len(providers), handle.MaxProviders)
	}
	for i, prov := range providers {
		if prov == nil {
			return nil, fmt.Errorf("%w: provider %d is nil", sensors.ErrBadValue, i)
		}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger
	}

	p := &Proxy{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		catalog: newCatalog(),
		direct:  -1,
	}
	p.sup = wakelock.New(wakelock.Options{
		Name:        opts.WakeLockName,
		Timeout:     opts.WakeLockTimeout,
		Locker:      opts.Locker,
		HistorySize: opts.WakeLockHistorySize,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	p.writer = writer.New(p.sup, writer.Options{
		MaxPendingEvents: opts.MaxPendingEvents,
		WriteTimeout:     opts.PendingWriteTimeout,
		IsWakeUp:         p.catalog.isWakeUp,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	})

	p.providers = make([]providerEntry, len(providers))
	for i, prov := range providers {
		p.providers[i] = providerEntry{
			provider: prov,
			callback: &providerCallback{proxy: p, index: i, name: prov.Name()},
		}
	}
	if len(providers) == 0 {
		p.logger.Warn("No sensor providers configured")
	}

	p.loadStaticSensors()
	return p, nil
}

func (p *Proxy) loadStaticSensors() {
	for i, e := range p.providers {
		name := e.provider.Name()
		list, err := e.provider.SensorsList()
		if err != nil {
			p.logger.WithError(err).WithField("provider", name).Error("Failed to list provider sensors")
			continue
		}

		for _, info := range list {
			if !handle.IsEncodable(info.Handle) {
				p.logger.WithFields(logrus.Fields{
					"provider": name,
					"sensor":   info.Name,
					"handle":   fmt.Sprintf("%#x", info.Handle),
				}).Error("Sensor handle has a non-zero provider index, skipping")
				continue
			}

			switch {
			case p.direct < 0 && info.Flags.SupportsDirect():
				p.direct = i
				p.logger.WithField("provider", name).Debug("Elected direct-channel provider")
			case p.direct >= 0 && p.direct != i:
				info.Flags = info.Flags.WithoutDirect()
			}

			info.Handle = handle.Encode(info.Handle, i)
			p.catalog.addStatic(info)
		}
	}
}

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	return State(p.state.Load())
}

// Running reports whether events are being accepted.
func (p *Proxy) Running() bool {
	return p.State() == StateRunning
}

// Providers returns the provider names in index order.
func (p *Proxy) Providers() []string {
	names := make([]string, len(p.providers))
	for i, e := range p.providers {
		names[i] = e.callback.name
	}
	return names
}

// Initialize binds the proxy to a consumer and (re)starts it.
//
// Any previous session is torn down first: both workers stop, the wake-lock
// is reset, every known sensor is disabled, and the backlog and dynamic
// sensors are cleared. Providers are then initialized in order; the first
// failure is returned and later providers are left alone. The operation mode
// is ModeNormal afterwards whatever the outcome.
func (p *Proxy) Initialize(events *fmq.EventQueue, acks *fmq.AckQueue, consumer sensors.DynamicSensorsCallback) error {
	if events == nil || acks == nil || consumer == nil {
		return fmt.Errorf("%w: event queue, ack queue and dynamic sensors callback are required", sensors.ErrBadValue)
	}

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.State() == StateRunning {
		p.state.Store(uint32(StateShuttingDown))
		p.stopWorkersLocked()
	}
	p.state.Store(uint32(StateInitializing))

	p.sup.Reset()
	p.disableAllSensors()
	p.writer.Reset()
	p.catalog.clearDynamic()

	p.consumerMu.Lock()
	p.consumer = consumer
	p.consumerMu.Unlock()

	p.events, p.acks = events, acks
	p.sup.Start(acks)
	p.writer.Start(events)
	p.state.Store(uint32(StateRunning))

	var err error
	for _, e := range p.providers {
		if perr := e.provider.Initialize(e.callback); perr != nil {
			p.logger.WithError(perr).WithField("provider", e.callback.name).Error("Provider initialization failed")
			err = fmt.Errorf("initialize provider %q: %w", e.callback.name, perr)
			break
		}
	}

	p.modeMu.Lock()
	p.mode = sensors.ModeNormal
	p.modeMu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"providers":     len(p.providers),
		"event_quantum": events.Quantum(),
		"ack_capacity":  acks.Capacity(),
	}).Debug("Proxy initialized")
	p.metrics.ControlCall("initialize", sensors.ResultOf(err).String())
	return err
}

// Close stops both workers and releases the wake-lock. The proxy can be
// initialized again afterwards. Close must not run concurrently with any
// other proxy call.
func (p *Proxy) Close() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.State() == StateUninitialized {
		return nil
	}
	p.state.Store(uint32(StateShuttingDown))
	p.stopWorkersLocked()
	p.sup.Reset()
	p.state.Store(uint32(StateUninitialized))

	p.logger.Debug("Proxy closed")
	return nil
}

// stopWorkersLocked unblocks and joins both workers. The writer drains the
// event queue so a blocked write returns; the supervisor writes a zero ack.
func (p *Proxy) stopWorkersLocked() {
	p.writer.Stop()
	p.sup.Stop(p.acks)
}

// disableAllSensors deactivates every static and dynamic sensor so no
// provider keeps reporting into a new session. Failures are logged.
func (p *Proxy) disableAllSensors() {
	handles := append(p.catalog.staticHandles(), p.catalog.dynamicHandles()...)
	for _, h := range handles {
		e, local, err := p.route(h)
		if err != nil {
			continue
		}
		if err := e.provider.Activate(local, false); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"provider": e.callback.name,
				"handle":   fmt.Sprintf("%#x", h),
			}).Warn("Failed to disable sensor")
		}
	}
}

func (p *Proxy) dynamicSensorsCallback() sensors.DynamicSensorsCallback {
	p.consumerMu.RLock()
	defer p.consumerMu.RUnlock()
	return p.consumer
}
