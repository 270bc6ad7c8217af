package proxy

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/internal/handle"
	"github.com/srg/sensormux/pkg/sensors"
)

// providerCallback is the sensors.Callback handed to one provider. It tags
// everything the provider reports with the provider's index.
type providerCallback struct {
	proxy *Proxy
	index int
	name  string
}

var _ sensors.Callback = (*providerCallback)(nil)

// PostEvents tags events and hands them to the writer. The wake-lock token
// is released on return. A token that is locked without any wake-up event,
// or wake-up events without a locked token, is a provider bug and panics.
func (cb *providerCallback) PostEvents(events []sensors.Event, wl sensors.WakeLock) {
	if wl != nil {
		defer wl.Release()
	}
	if len(events) == 0 || !cb.proxy.Running() {
		return
	}

	tagged := make([]sensors.Event, len(events))
	wakeups := 0
	for i, ev := range events {
		ev.SensorHandle = handle.Encode(ev.SensorHandle, cb.index)
		if cb.proxy.catalog.isWakeUp(ev.SensorHandle) {
			wakeups++
		}
		tagged[i] = ev
	}

	locked := wl != nil && wl.IsLocked()
	if locked != (wakeups > 0) {
		cb.proxy.logger.WithFields(logrus.Fields{
			"provider": cb.name,
			"events":   len(events),
			"wakeups":  wakeups,
			"locked":   locked,
		}).Panic("Wake-lock does not match wake-up events")
	}

	cb.proxy.writer.Post(tagged, wakeups, locked)
}

// CreateWakeLock returns a scoped token holding one wake-lock reference
// when lock is set and the proxy is running.
func (cb *providerCallback) CreateWakeLock(lock bool) sensors.WakeLock {
	return cb.proxy.sup.NewScoped(lock && cb.proxy.Running())
}

func (cb *providerCallback) OnDynamicSensorsConnected(added []sensors.SensorInfo) {
	accepted, rejected := cb.proxy.catalog.connect(cb.index, added)
	for _, info := range rejected {
		cb.proxy.logger.WithFields(logrus.Fields{
			"provider": cb.name,
			"sensor":   info.Name,
			"handle":   fmt.Sprintf("%#x", info.Handle),
		}).Error("Dynamic sensor handle has a non-zero provider index, skipping")
	}

	if consumer := cb.proxy.dynamicSensorsCallback(); consumer != nil {
		consumer.OnDynamicSensorsConnected(accepted)
	}
}

func (cb *providerCallback) OnDynamicSensorsDisconnected(removed []int32) {
	gone, rejected := cb.proxy.catalog.disconnect(cb.index, removed)
	for _, h := range rejected {
		cb.proxy.logger.WithFields(logrus.Fields{
			"provider": cb.name,
			"handle":   fmt.Sprintf("%#x", h),
		}).Error("Removed dynamic sensor handle has a non-zero provider index, skipping")
	}

	if consumer := cb.proxy.dynamicSensorsCallback(); consumer != nil {
		consumer.OnDynamicSensorsDisconnected(gone)
	}
}
