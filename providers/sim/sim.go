// Package sim is a simulated sensor provider. It reports a configurable set
// of static sensors, emits synthetic samples for active sensors from its own
// goroutine, loops injected events back in data injection mode, and can
// attach dynamic sensors when initialized.
//
// It registers itself in the default provider registry as "sim".
package sim

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/groutine"
	"github.com/srg/sensormux/pkg/registry"
	"github.com/srg/sensormux/pkg/sensors"
)

// Kind is the registry name of this provider.
const Kind = "sim"

func init() {
	registry.Register(Kind, Factory)
}

// dynamicHandleBase is the first provider-local handle used for dynamic sensors.
const dynamicHandleBase int32 = 0x100

var sensorTypes = []sensors.SensorType{
	sensors.TypeAccelerometer,
	sensors.TypeGyroscope,
	sensors.TypeMagneticField,
	sensors.TypeLight,
	sensors.TypePressure,
	sensors.TypeProximity,
	sensors.TypeStepDetector,
}

// Options configures a simulated provider.
type Options struct {
	// Sensors is the number of static sensors. The last WakeUpSensors of
	// them are wake-up sensors.
	Sensors       int `yaml:"sensors" default:"3"`
	WakeUpSensors int `yaml:"wake_up_sensors" default:"1"`

	// DynamicSensors are connected on every Initialize.
	DynamicSensors int `yaml:"dynamic_sensors" default:"0"`

	// Period is the default sampling period of an active sensor and the
	// generator tick.
	Period time.Duration `yaml:"period" default:"100ms"`

	// DirectChannel makes the first sensor direct-report capable.
	DirectChannel bool `yaml:"direct_channel" default:"false"`
}

func (o Options) validate() error {
	switch {
	case o.Sensors < 0:
		return fmt.Errorf("%w: sensors must not be negative", sensors.ErrBadValue)
	case o.WakeUpSensors < 0 || o.WakeUpSensors > o.Sensors:
		return fmt.Errorf("%w: wake_up_sensors must be within 0..%d", sensors.ErrBadValue, o.Sensors)
	case o.DynamicSensors < 0:
		return fmt.Errorf("%w: dynamic_sensors must not be negative", sensors.ErrBadValue)
	case o.Period <= 0:
		return fmt.Errorf("%w: period must be positive", sensors.ErrBadValue)
	}
	return nil
}

// Factory builds a Provider from registry input. Options missing from the
// configuration take their default values.
func Factory(in registry.BuildInput) (sensors.Provider, error) {
	opts := Options{}
	defaults.SetDefaults(&opts)
	if in.Options != nil && in.Options.Kind != 0 {
		if err := in.Options.Decode(&opts); err != nil {
			return nil, fmt.Errorf("decode sim options: %w", err)
		}
	}
	return New(in.Name, opts, in.Logger)
}

type sensorState struct {
	info    sensors.SensorInfo
	active  bool
	period  time.Duration
	nextDue time.Time
	seq     uint64
}

// Provider is a simulated sensors.Provider.
type Provider struct {
	name   string
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	cb          sensors.Callback
	mode        sensors.OperationMode
	static      map[int32]*sensorState
	dynamic     map[int32]*sensorState
	channels    map[int32]sensors.SharedMemInfo
	nextChannel int32

	posted  atomic.Uint64
	flushes atomic.Uint64

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ sensors.Provider = (*Provider)(nil)

// New creates a stopped simulated provider. The generator starts on the
// first Initialize.
func New(name string, opts Options, logger *logrus.Logger) (*Provider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = Kind
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Provider{
		name:        name,
		opts:        opts,
		logger:      logger,
		static:      make(map[int32]*sensorState, opts.Sensors),
		dynamic:     make(map[int32]*sensorState),
		channels:    make(map[int32]sensors.SharedMemInfo),
		nextChannel: 1,
	}
	for i := 0; i < opts.Sensors; i++ {
		info := p.describe(int32(i+1), i)
		if i >= opts.Sensors-opts.WakeUpSensors {
			info.Flags |= sensors.FlagWakeUp
			info.Name += " (wake-up)"
		}
		if i == 0 && opts.DirectChannel {
			info.Flags |= sensors.FlagDirectReport | sensors.FlagDirectChannel
		}
		p.static[info.Handle] = &sensorState{info: info, period: opts.Period}
	}
	return p, nil
}

func (p *Provider) describe(h int32, i int) sensors.SensorInfo {
	typ := sensorTypes[i%len(sensorTypes)]
	return sensors.SensorInfo{
		Handle:     h,
		Name:       fmt.Sprintf("%s %s %d", p.name, typ, i),
		Vendor:     "sensormux",
		Version:    1,
		Type:       typ,
		MaxRange:   100,
		Resolution: 0.01,
		MinDelay:   int32(p.opts.Period.Microseconds()),
		MaxDelay:   int32((10 * p.opts.Period).Microseconds()),
		Flags:      sensors.FlagDataInjection,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) SensorsList() ([]sensors.SensorInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]sensors.SensorInfo, 0, len(p.static))
	for _, st := range p.static {
		out = append(out, st.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (p *Provider) SetOperationMode(mode sensors.OperationMode) error {
	switch mode {
	case sensors.ModeNormal, sensors.ModeDataInjection:
	default:
		return fmt.Errorf("%w: unsupported mode %s", sensors.ErrBadValue, mode)
	}
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	return nil
}

// sensorLocked returns the static or dynamic sensor with handle h.
func (p *Provider) sensorLocked(h int32) (*sensorState, error) {
	if st, ok := p.static[h]; ok {
		return st, nil
	}
	if st, ok := p.dynamic[h]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("%w: unknown sensor %#x", sensors.ErrBadValue, h)
}

func (p *Provider) Activate(h int32, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.sensorLocked(h)
	if err != nil {
		return err
	}
	st.active = enabled
	st.nextDue = time.Time{}
	return nil
}

func (p *Provider) Batch(h int32, samplingPeriod, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.sensorLocked(h)
	if err != nil {
		return err
	}
	if minPeriod := time.Duration(st.info.MinDelay) * time.Microsecond; samplingPeriod < minPeriod {
		samplingPeriod = minPeriod
	}
	st.period = samplingPeriod
	return nil
}

func (p *Provider) Flush(h int32) error {
	p.mu.Lock()
	_, err := p.sensorLocked(h)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.flushes.Add(1)
	return nil
}

// InjectSensorData loops an injected sample back to the consumer while in
// data injection mode. Additional info frames are accepted and dropped.
func (p *Provider) InjectSensorData(ev sensors.Event) error {
	p.mu.Lock()
	mode := p.mode
	cb := p.cb
	st, err := p.sensorLocked(ev.SensorHandle)
	p.mu.Unlock()

	if ev.Type == sensors.TypeAdditionalInfo {
		return nil
	}
	if err != nil {
		return err
	}
	if mode != sensors.ModeDataInjection {
		return fmt.Errorf("%w: injection requires data injection mode", sensors.ErrInvalidOperation)
	}
	if cb != nil {
		p.post(cb, []sensors.Event{ev}, st.info.IsWakeUp())
	}
	return nil
}

func (p *Provider) RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error) {
	if !p.opts.DirectChannel {
		return -1, fmt.Errorf("%w: direct channels are disabled", sensors.ErrInvalidOperation)
	}
	if mem.Size == 0 {
		return -1, fmt.Errorf("%w: empty shared memory region", sensors.ErrBadValue)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.nextChannel
	p.nextChannel++
	p.channels[ch] = mem
	return ch, nil
}

func (p *Provider) UnregisterDirectChannel(channel int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.channels[channel]; !ok {
		return fmt.Errorf("%w: unknown channel %d", sensors.ErrBadValue, channel)
	}
	delete(p.channels, channel)
	return nil
}

// ConfigDirectReport returns a report token for an enabled rate and 0 when
// the report is stopped. Handle -1 configures every sensor.
func (p *Provider) ConfigDirectReport(h, channel int32, rate sensors.RateLevel) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.channels[channel]; !ok {
		return -1, fmt.Errorf("%w: unknown channel %d", sensors.ErrBadValue, channel)
	}
	if h == -1 || rate == sensors.RateStop {
		return 0, nil
	}
	st, err := p.sensorLocked(h)
	if err != nil {
		return -1, err
	}
	if !st.info.Flags.SupportsDirect() {
		return -1, fmt.Errorf("%w: sensor %#x has no direct report", sensors.ErrBadValue, h)
	}
	return h<<4 | int32(rate), nil
}

// Initialize stores cb, starts the generator if needed and connects the
// configured dynamic sensors.
func (p *Provider) Initialize(cb sensors.Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", sensors.ErrBadValue)
	}

	p.mu.Lock()
	p.cb = cb
	p.mode = sensors.ModeNormal
	p.dynamic = make(map[int32]*sensorState, p.opts.DynamicSensors)
	added := make([]sensors.SensorInfo, 0, p.opts.DynamicSensors)
	for i := 0; i < p.opts.DynamicSensors; i++ {
		info := p.describe(dynamicHandleBase+int32(i), p.opts.Sensors+i)
		info.Name += " (dynamic)"
		p.dynamic[info.Handle] = &sensorState{info: info, period: p.opts.Period}
		added = append(added, info)
	}
	p.mu.Unlock()

	if p.running.CompareAndSwap(false, true) {
		stop := make(chan struct{})
		p.stop = stop
		groutine.Go(context.Background(), "sim-"+p.name, &p.wg, func(ctx context.Context) {
			p.generate(ctx, stop)
		})
	}

	if len(added) > 0 {
		cb.OnDynamicSensorsConnected(added)
	}
	return nil
}

// Close stops the generator.
func (p *Provider) Close() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stop)
	p.wg.Wait()
	return nil
}

func (p *Provider) Debug(w io.Writer) error {
	p.mu.Lock()
	active := 0
	for _, st := range p.static {
		if st.active {
			active++
		}
	}
	dynamic, channels, mode := len(p.dynamic), len(p.channels), p.mode
	p.mu.Unlock()

	_, err := fmt.Fprintf(w, "    sim %q: mode=%s static=%d active=%d dynamic=%d channels=%d posted=%d flushes=%d\n",
		p.name, mode, len(p.static), active, dynamic, channels, p.posted.Load(), p.flushes.Load())
	return err
}

// Posted returns the number of events handed to the callback.
func (p *Provider) Posted() uint64 {
	return p.posted.Load()
}

func (p *Provider) generate(ctx context.Context, stop <-chan struct{}) {
	defer p.logger.Debugf("%s: exiting", groutine.GetName(ctx))

	ticker := time.NewTicker(p.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

func (p *Provider) tick(now time.Time) {
	p.mu.Lock()
	cb := p.cb
	var batch []sensors.Event
	wakeUp := false
	for _, group := range []map[int32]*sensorState{p.static, p.dynamic} {
		for _, st := range group {
			if !st.active || now.Before(st.nextDue) {
				continue
			}
			st.nextDue = now.Add(st.period)
			st.seq++

			ev := sensors.Event{
				Timestamp:    now.UnixNano(),
				SensorHandle: st.info.Handle,
				Type:         st.info.Type,
			}
			ev.Data[0] = float32(st.seq)
			batch = append(batch, ev)
			wakeUp = wakeUp || st.info.IsWakeUp()
		}
	}
	p.mu.Unlock()

	if cb == nil || len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].SensorHandle < batch[j].SensorHandle })
	p.post(cb, batch, wakeUp)
}

// post delivers events with a wake-lock that is locked iff wakeUp is set.
func (p *Provider) post(cb sensors.Callback, events []sensors.Event, wakeUp bool) {
	cb.PostEvents(events, cb.CreateWakeLock(wakeUp))
	p.posted.Add(uint64(len(events)))
}
