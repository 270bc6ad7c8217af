package main

import (
	"errors"
	"fmt"

	"github.com/srg/sensormux/pkg/sensors"
)

// Command-level errors
var (
	// ErrNoSensors indicates the configured providers report no sensors at all.
	ErrNoSensors = errors.New("no sensors available")
)

// formatUserError appends the control-call result name to errors that map
// onto a known result.
func formatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch r := sensors.ResultOf(err); r {
	case sensors.ResultOK, sensors.ResultUnknown:
		return err.Error()
	default:
		return fmt.Sprintf("%s (%s)", err, r)
	}
}
