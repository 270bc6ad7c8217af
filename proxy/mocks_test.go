package proxy

import (
	"io"
	"sync"
	"time"

	"github.com/srg/sensormux/pkg/sensors"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements sensors.Provider for testing. Initialize stores
// the callback so tests can post events as the provider.
type MockProvider struct {
	mock.Mock

	name string

	mu sync.Mutex
	cb sensors.Callback
}

func newMockProvider(name string, list []sensors.SensorInfo) *MockProvider {
	m := &MockProvider{name: name}
	m.On("SensorsList").Return(list, nil)
	return m
}

func (m *MockProvider) callback() sensors.Callback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) SensorsList() ([]sensors.SensorInfo, error) {
	args := m.Called()
	return args.Get(0).([]sensors.SensorInfo), args.Error(1)
}

func (m *MockProvider) SetOperationMode(mode sensors.OperationMode) error {
	return m.Called(mode).Error(0)
}

func (m *MockProvider) Activate(handle int32, enabled bool) error {
	return m.Called(handle, enabled).Error(0)
}

func (m *MockProvider) Batch(handle int32, samplingPeriod, maxReportLatency time.Duration) error {
	return m.Called(handle, samplingPeriod, maxReportLatency).Error(0)
}

func (m *MockProvider) Flush(handle int32) error {
	return m.Called(handle).Error(0)
}

func (m *MockProvider) InjectSensorData(event sensors.Event) error {
	return m.Called(event).Error(0)
}

func (m *MockProvider) RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error) {
	args := m.Called(mem)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockProvider) UnregisterDirectChannel(channel int32) error {
	return m.Called(channel).Error(0)
}

func (m *MockProvider) ConfigDirectReport(handle, channel int32, rate sensors.RateLevel) (int32, error) {
	args := m.Called(handle, channel, rate)
	return args.Get(0).(int32), args.Error(1)
}

func (m *MockProvider) Initialize(cb sensors.Callback) error {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
	return m.Called(cb).Error(0)
}

func (m *MockProvider) Debug(w io.Writer) error {
	return m.Called(w).Error(0)
}

// MockConsumer implements sensors.DynamicSensorsCallback for testing.
type MockConsumer struct {
	mock.Mock
}

func (m *MockConsumer) OnDynamicSensorsConnected(added []sensors.SensorInfo) {
	m.Called(added)
}

func (m *MockConsumer) OnDynamicSensorsDisconnected(removed []int32) {
	m.Called(removed)
}

// sensorRange returns n provider-local sensors with handles 0..n-1. The
// sensor at wakeUp, if in range, is a wake-up sensor.
func sensorRange(prefix string, n int, wakeUp int32) []sensors.SensorInfo {
	out := make([]sensors.SensorInfo, n)
	for i := range out {
		out[i] = sensors.SensorInfo{
			Handle: int32(i),
			Name:   prefix + "-" + string(rune('a'+i)),
			Type:   sensors.TypeAccelerometer,
		}
		if int32(i) == wakeUp {
			out[i].Flags |= sensors.FlagWakeUp
		}
	}
	return out
}
