package sensors

import "fmt"

// SensorType identifies the kind of data a sensor reports.
type SensorType int32

const (
	TypeAccelerometer SensorType = 1
	TypeMagneticField SensorType = 2
	TypeGyroscope     SensorType = 4
	TypeLight         SensorType = 5
	TypePressure      SensorType = 6
	TypeProximity     SensorType = 8
	TypeStepDetector  SensorType = 18

	// TypeAdditionalInfo carries diagnostic frames rather than samples. It is
	// the only type that may be injected while the proxy runs in ModeNormal.
	TypeAdditionalInfo SensorType = 33
)

func (t SensorType) String() string {
	switch t {
	case TypeAccelerometer:
		return "accelerometer"
	case TypeMagneticField:
		return "magnetic_field"
	case TypeGyroscope:
		return "gyroscope"
	case TypeLight:
		return "light"
	case TypePressure:
		return "pressure"
	case TypeProximity:
		return "proximity"
	case TypeStepDetector:
		return "step_detector"
	case TypeAdditionalInfo:
		return "additional_info"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// SensorFlags is a bit set describing sensor capabilities.
type SensorFlags uint32

const (
	FlagWakeUp        SensorFlags = 1 << 0
	FlagDataInjection SensorFlags = 1 << 4
	// FlagDirectReport is the mask of supported direct-report rates (bits 7..9).
	FlagDirectReport SensorFlags = 0x380
	// FlagDirectChannel is the mask of supported direct channel memory types (bits 10..11).
	FlagDirectChannel SensorFlags = 0xC00

	directMask = FlagDirectReport | FlagDirectChannel
)

// SupportsDirect reports whether any direct report or direct channel bit is set.
func (f SensorFlags) SupportsDirect() bool {
	return f&directMask != 0
}

// WithoutDirect returns f with every direct report and direct channel bit cleared.
func (f SensorFlags) WithoutDirect() SensorFlags {
	return f &^ directMask
}

// SensorInfo describes one sensor as published to the consumer.
type SensorInfo struct {
	Handle     int32       `json:"handle" yaml:"handle"`
	Name       string      `json:"name" yaml:"name"`
	Vendor     string      `json:"vendor" yaml:"vendor"`
	Version    int32       `json:"version" yaml:"version"`
	Type       SensorType  `json:"type" yaml:"type"`
	MaxRange   float32     `json:"max_range" yaml:"max_range"`
	Resolution float32     `json:"resolution" yaml:"resolution"`
	MinDelay   int32       `json:"min_delay_us" yaml:"min_delay_us"`
	MaxDelay   int32       `json:"max_delay_us" yaml:"max_delay_us"`
	Flags      SensorFlags `json:"flags" yaml:"flags"`
}

// IsWakeUp reports whether events from the sensor require the consumer to be awake.
func (s SensorInfo) IsWakeUp() bool {
	return s.Flags&FlagWakeUp != 0
}

// Event is a single sensor sample or meta record. The payload is opaque to
// the proxy and is passed through untouched.
type Event struct {
	Timestamp    int64       `json:"timestamp"`
	SensorHandle int32       `json:"sensor_handle"`
	Type         SensorType  `json:"type"`
	Data         [16]float32 `json:"data"`
}

// OperationMode is the global mode shared by every provider.
type OperationMode int32

const (
	ModeNormal        OperationMode = 0
	ModeDataInjection OperationMode = 1
)

func (m OperationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDataInjection:
		return "data_injection"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// RateLevel is the reporting rate requested for a direct report.
type RateLevel int32

const (
	RateStop     RateLevel = 0
	RateNormal   RateLevel = 1
	RateFast     RateLevel = 2
	RateVeryFast RateLevel = 3
)

// SharedMemType names the memory backing a direct channel.
type SharedMemType int32

const (
	SharedMemAshmem  SharedMemType = 1
	SharedMemGralloc SharedMemType = 2
)

// SharedMemInfo describes the memory region handed to RegisterDirectChannel.
type SharedMemInfo struct {
	Type   SharedMemType
	Format int32
	Size   uint32
	FD     uintptr
}
