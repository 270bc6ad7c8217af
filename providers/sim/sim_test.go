package sim

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensormux/pkg/config"
	"github.com/srg/sensormux/pkg/registry"
	"github.com/srg/sensormux/pkg/sensors"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// fakeLock is a sensors.WakeLock that remembers whether it was released.
type fakeLock struct {
	mu       sync.Mutex
	locked   bool
	released bool
}

func (l *fakeLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && !l.released
}

func (l *fakeLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

type posted struct {
	events []sensors.Event
	locked bool
}

// recordingCallback captures everything a provider reports.
type recordingCallback struct {
	mu      sync.Mutex
	batches []posted
	added   []sensors.SensorInfo
	removed []int32
}

func (c *recordingCallback) PostEvents(events []sensors.Event, wl sensors.WakeLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, posted{events: append([]sensors.Event(nil), events...), locked: wl.IsLocked()})
	wl.Release()
}

func (c *recordingCallback) CreateWakeLock(lock bool) sensors.WakeLock {
	return &fakeLock{locked: lock}
}

func (c *recordingCallback) OnDynamicSensorsConnected(added []sensors.SensorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, added...)
}

func (c *recordingCallback) OnDynamicSensorsDisconnected(removed []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, removed...)
}

func (c *recordingCallback) snapshot() []posted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]posted(nil), c.batches...)
}

type SimTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	cb       *recordingCallback
	provider *Provider
}

func (suite *SimTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)
	suite.cb = &recordingCallback{}

	p, err := New("imu", Options{Sensors: 3, WakeUpSensors: 1, Period: 10 * time.Millisecond}, suite.logger)
	suite.Require().NoError(err)
	suite.provider = p
}

func (suite *SimTestSuite) TearDownTest() {
	suite.NoError(suite.provider.Close())
}

func (suite *SimTestSuite) TestSensorsList() {
	list, err := suite.provider.SensorsList()
	suite.Require().NoError(err)
	suite.Require().Len(list, 3)

	for i, info := range list {
		suite.Equal(int32(i+1), info.Handle)
		suite.Equal(i == 2, info.IsWakeUp(), "sensor %d", i)
		suite.False(info.Flags.SupportsDirect())
	}
}

func (suite *SimTestSuite) TestUnknownHandles() {
	suite.ErrorIs(suite.provider.Activate(42, true), sensors.ErrBadValue)
	suite.ErrorIs(suite.provider.Batch(42, time.Second, 0), sensors.ErrBadValue)
	suite.ErrorIs(suite.provider.Flush(42), sensors.ErrBadValue)
}

func (suite *SimTestSuite) TestGeneratorHonoursWakeLockContract() {
	// GOAL: Generated batches carry a locked wake-lock exactly when they hold a wake-up event
	//
	// TEST SCENARIO: activate a plain and a wake-up sensor → wait for batches → every batch's lock matches its content
	suite.Require().NoError(suite.provider.Initialize(suite.cb))
	suite.Require().NoError(suite.provider.Activate(1, true))
	suite.Require().NoError(suite.provider.Activate(3, true))

	suite.Eventually(func() bool { return len(suite.cb.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)

	for _, b := range suite.cb.snapshot() {
		wake := false
		for _, ev := range b.events {
			suite.Contains([]int32{1, 3}, ev.SensorHandle)
			wake = wake || ev.SensorHandle == 3
		}
		suite.Equal(wake, b.locked)
	}

	suite.Require().NoError(suite.provider.Activate(1, false))
	suite.Require().NoError(suite.provider.Activate(3, false))
	suite.Positive(suite.provider.Posted())
}

func (suite *SimTestSuite) TestInactiveProviderIsSilent() {
	suite.Require().NoError(suite.provider.Initialize(suite.cb))
	suite.Never(func() bool { return len(suite.cb.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (suite *SimTestSuite) TestInjection() {
	suite.Require().NoError(suite.provider.Initialize(suite.cb))

	suite.Run("additional info is accepted in any mode", func() {
		suite.NoError(suite.provider.InjectSensorData(sensors.Event{SensorHandle: 1, Type: sensors.TypeAdditionalInfo}))
		suite.Empty(suite.cb.snapshot())
	})

	suite.Run("samples need data injection mode", func() {
		err := suite.provider.InjectSensorData(sensors.Event{SensorHandle: 1, Type: sensors.TypeAccelerometer})
		suite.ErrorIs(err, sensors.ErrInvalidOperation)
	})

	suite.Run("samples loop back with the sensor's wake-lock", func() {
		suite.Require().NoError(suite.provider.SetOperationMode(sensors.ModeDataInjection))
		suite.Require().NoError(suite.provider.InjectSensorData(sensors.Event{SensorHandle: 3, Type: sensors.TypePressure, Timestamp: 7}))

		batches := suite.cb.snapshot()
		suite.Require().Len(batches, 1)
		suite.True(batches[0].locked)
		suite.Equal(int64(7), batches[0].events[0].Timestamp)
	})
}

func (suite *SimTestSuite) TestDynamicSensorsConnectOnInitialize() {
	p, err := New("hub", Options{Sensors: 1, DynamicSensors: 2, Period: time.Second}, suite.logger)
	suite.Require().NoError(err)
	defer p.Close()

	suite.Require().NoError(p.Initialize(suite.cb))
	suite.Require().Len(suite.cb.added, 2)
	suite.Equal(dynamicHandleBase, suite.cb.added[0].Handle)
	suite.NoError(p.Activate(dynamicHandleBase+1, true))
}

func (suite *SimTestSuite) TestDirectChannel() {
	_, err := suite.provider.RegisterDirectChannel(sensors.SharedMemInfo{Size: 4096})
	suite.ErrorIs(err, sensors.ErrInvalidOperation)

	p, err := New("direct", Options{Sensors: 2, DirectChannel: true, Period: time.Second}, suite.logger)
	suite.Require().NoError(err)

	list, _ := p.SensorsList()
	suite.True(list[0].Flags.SupportsDirect())
	suite.False(list[1].Flags.SupportsDirect())

	_, err = p.RegisterDirectChannel(sensors.SharedMemInfo{})
	suite.ErrorIs(err, sensors.ErrBadValue)

	ch, err := p.RegisterDirectChannel(sensors.SharedMemInfo{Type: sensors.SharedMemAshmem, Size: 4096})
	suite.Require().NoError(err)

	token, err := p.ConfigDirectReport(1, ch, sensors.RateFast)
	suite.NoError(err)
	suite.Positive(token)

	_, err = p.ConfigDirectReport(2, ch, sensors.RateFast)
	suite.ErrorIs(err, sensors.ErrBadValue)

	token, err = p.ConfigDirectReport(-1, ch, sensors.RateStop)
	suite.NoError(err)
	suite.Zero(token)

	suite.NoError(p.UnregisterDirectChannel(ch))
	suite.ErrorIs(p.UnregisterDirectChannel(ch), sensors.ErrBadValue)
}

func (suite *SimTestSuite) TestDebug() {
	var buf bytes.Buffer
	suite.Require().NoError(suite.provider.Debug(&buf))
	suite.Contains(buf.String(), `sim "imu": mode=normal static=3 active=0`)
}

func (suite *SimTestSuite) TestFactory() {
	suite.Run("registered by default", func() {
		suite.Contains(registry.Default.Kinds(), Kind)
	})

	suite.Run("decodes options over defaults", func() {
		var cfg config.ProviderConfig
		suite.Require().NoError(yaml.Unmarshal([]byte("name: wrist\nkind: sim\noptions:\n  sensors: 5\n"), &cfg))

		prov, err := Factory(registry.BuildInput{Name: cfg.DisplayName(), Options: &cfg.Options, Logger: suite.logger})
		suite.Require().NoError(err)
		suite.Equal("wrist", prov.Name())

		list, err := prov.SensorsList()
		suite.NoError(err)
		suite.Len(list, 5)
		suite.True(list[4].IsWakeUp())
	})

	suite.Run("missing options use defaults", func() {
		prov, err := Factory(registry.BuildInput{Name: "plain"})
		suite.Require().NoError(err)
		list, _ := prov.SensorsList()
		suite.Len(list, 3)
	})

	suite.Run("invalid options", func() {
		var node yaml.Node
		suite.Require().NoError(yaml.Unmarshal([]byte("wake_up_sensors: 9\n"), &node))
		_, err := Factory(registry.BuildInput{Name: "bad", Options: &node})
		suite.ErrorIs(err, sensors.ErrBadValue)
	})
}

func TestSimTestSuite(t *testing.T) {
	suite.Run(t, new(SimTestSuite))
}
