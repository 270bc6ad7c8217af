package sensors

import "errors"

// Control-call errors. Providers should return (or wrap) these so the proxy
// and its consumer can map failures onto the closed Result set.
var (
	// ErrBadValue reports a malformed or out-of-range handle, or an event that
	// may not be injected in the current operation mode.
	ErrBadValue = errors.New("bad value")

	// ErrInvalidOperation reports a feature that no registered provider offers.
	ErrInvalidOperation = errors.New("invalid operation")

	ErrPermissionDenied = errors.New("permission denied")
	ErrNoMemory         = errors.New("no memory")
)

// Result is the closed set of control-call outcomes seen by the consumer.
type Result int32

const (
	ResultOK               Result = 0
	ResultPermissionDenied Result = -1
	ResultNoMemory         Result = -12
	ResultBadValue         Result = -22
	ResultInvalidOperation Result = -38
	// ResultUnknown covers provider errors outside the known taxonomy.
	ResultUnknown Result = -2147483648
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultPermissionDenied:
		return "PERMISSION_DENIED"
	case ResultNoMemory:
		return "NO_MEMORY"
	case ResultBadValue:
		return "BAD_VALUE"
	case ResultInvalidOperation:
		return "INVALID_OPERATION"
	default:
		return "UNKNOWN"
	}
}

// ResultOf maps an error returned by the proxy onto a Result.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrBadValue):
		return ResultBadValue
	case errors.Is(err, ErrInvalidOperation):
		return ResultInvalidOperation
	case errors.Is(err, ErrPermissionDenied):
		return ResultPermissionDenied
	case errors.Is(err, ErrNoMemory):
		return ResultNoMemory
	default:
		return ResultUnknown
	}
}
