package proxy

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/handle"
	"github.com/srg/sensormux/pkg/sensors"
)

// route resolves a proxy handle to its provider and provider-local handle.
func (p *Proxy) route(h int32) (*providerEntry, int32, error) {
	idx := handle.ProviderIndex(h)
	if idx >= len(p.providers) {
		return nil, 0, fmt.Errorf("%w: handle %#x names provider %d of %d", sensors.ErrBadValue, h, idx, len(p.providers))
	}
	return &p.providers[idx], handle.Strip(h), nil
}

func (p *Proxy) record(op string, err error) {
	p.metrics.ControlCall(op, sensors.ResultOf(err).String())
}

// SensorsList returns every static and dynamic sensor, sorted by handle.
func (p *Proxy) SensorsList() []sensors.SensorInfo {
	return p.catalog.list()
}

// Activate enables or disables a sensor.
func (p *Proxy) Activate(h int32, enabled bool) (err error) {
	defer func() { p.record("activate", err) }()

	e, local, err := p.route(h)
	if err != nil {
		return err
	}
	return e.provider.Activate(local, enabled)
}

// Batch sets the sampling period and maximum report latency of a sensor.
func (p *Proxy) Batch(h int32, samplingPeriod, maxReportLatency time.Duration) (err error) {
	defer func() { p.record("batch", err) }()

	e, local, err := p.route(h)
	if err != nil {
		return err
	}
	return e.provider.Batch(local, samplingPeriod, maxReportLatency)
}

// Flush asks the owning provider to flush a sensor's FIFO.
func (p *Proxy) Flush(h int32) (err error) {
	defer func() { p.record("flush", err) }()

	e, local, err := p.route(h)
	if err != nil {
		return err
	}
	return e.provider.Flush(local)
}

// InjectSensorData hands a synthetic event to the provider owning its
// sensor. In ModeNormal only TypeAdditionalInfo events may be injected.
func (p *Proxy) InjectSensorData(ev sensors.Event) (err error) {
	defer func() { p.record("inject_sensor_data", err) }()

	p.modeMu.Lock()
	mode := p.mode
	p.modeMu.Unlock()

	if mode == sensors.ModeNormal && ev.Type != sensors.TypeAdditionalInfo {
		p.logger.WithField("type", ev.Type).Error("Only additional info events may be injected in normal mode")
		return fmt.Errorf("%w: cannot inject %s events in %s mode", sensors.ErrBadValue, ev.Type, mode)
	}

	e, local, err := p.route(ev.SensorHandle)
	if err != nil {
		return err
	}
	ev.SensorHandle = local
	return e.provider.InjectSensorData(ev)
}

// OperationMode returns the mode last applied to every provider.
func (p *Proxy) OperationMode() sensors.OperationMode {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	return p.mode
}

// SetOperationMode applies mode to every provider in order. If a provider
// fails, the providers already switched are set back to the previous mode,
// later providers are not called, and that provider's error is returned.
func (p *Proxy) SetOperationMode(mode sensors.OperationMode) (err error) {
	defer func() { p.record("set_operation_mode", err) }()

	p.modeMu.Lock()
	defer p.modeMu.Unlock()

	for i, e := range p.providers {
		if err = e.provider.SetOperationMode(mode); err == nil {
			continue
		}

		p.logger.WithError(err).WithFields(logrus.Fields{
			"provider": e.callback.name,
			"mode":     mode,
		}).Error("Failed to set operation mode, rolling back")
		for _, prev := range p.providers[:i] {
			if rbErr := prev.provider.SetOperationMode(p.mode); rbErr != nil {
				p.logger.WithError(rbErr).WithField("provider", prev.callback.name).Error("Operation mode rollback failed")
			}
		}
		return err
	}

	p.mode = mode
	return nil
}

// RegisterDirectChannel registers shared memory with the direct-channel
// provider and returns its channel handle.
func (p *Proxy) RegisterDirectChannel(mem sensors.SharedMemInfo) (channel int32, err error) {
	defer func() { p.record("register_direct_channel", err) }()

	if p.direct < 0 {
		return -1, fmt.Errorf("%w: no direct-channel provider", sensors.ErrInvalidOperation)
	}
	return p.providers[p.direct].provider.RegisterDirectChannel(mem)
}

// UnregisterDirectChannel releases a channel from the direct-channel provider.
func (p *Proxy) UnregisterDirectChannel(channel int32) (err error) {
	defer func() { p.record("unregister_direct_channel", err) }()

	if p.direct < 0 {
		return fmt.Errorf("%w: no direct-channel provider", sensors.ErrInvalidOperation)
	}
	return p.providers[p.direct].provider.UnregisterDirectChannel(channel)
}

// ConfigDirectReport sets the direct report rate of a sensor on a channel.
// Handle -1 addresses every sensor of the direct-channel provider.
func (p *Proxy) ConfigDirectReport(h, channel int32, rate sensors.RateLevel) (token int32, err error) {
	defer func() { p.record("config_direct_report", err) }()

	if p.direct < 0 {
		return -1, fmt.Errorf("%w: no direct-channel provider", sensors.ErrInvalidOperation)
	}

	local := h
	if h != -1 {
		if idx := handle.ProviderIndex(h); idx != p.direct {
			return -1, fmt.Errorf("%w: handle %#x is not served by the direct-channel provider", sensors.ErrBadValue, h)
		}
		local = handle.Strip(h)
	}
	return p.providers[p.direct].provider.ConfigDirectReport(local, channel, rate)
}
