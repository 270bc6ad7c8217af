package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sensormux/internal/testutils"
	"github.com/srg/sensormux/pkg/config"
	"github.com/srg/sensormux/pkg/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs the real command tree against simulated providers.
type CommandTestSuite struct {
	suite.Suite
}

func (s *CommandTestSuite) SetupTest() {
	for name, value := range map[string]string{"config": "", "log-level": "error", "verbose": "false"} {
		s.Require().NoError(rootCmd.PersistentFlags().Set(name, value))
	}
	listFormat = "table"
	runDuration = 10 * time.Second
	runPeriod = 100 * time.Millisecond
	runMetricsAddr = ""
	runDump = false
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// WriteConfig stores a YAML configuration and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "sensormux.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func (s *CommandTestSuite) TestListDefaultProvider() {
	// GOAL: Without a config file the proxy exposes one simulated provider
	//
	// TEST SCENARIO: list → table holds the three default sim sensors tagged with provider index 0
	out, err := s.ExecuteCommand(rootCmd, "list")
	s.Require().NoError(err)

	s.Contains(out, "HANDLE")
	s.Contains(out, "0x00000001  sim")
	s.Contains(out, "sim accelerometer 0")
	s.Contains(out, "sim magnetic_field 2 (wake-up)")
}

func (s *CommandTestSuite) TestListJSONTagsHandlesPerProvider() {
	// GOAL: Sensors of the second provider carry provider index 1 in the top byte
	//
	// TEST SCENARIO: two sim providers → list --format json → handles of the second start at 1<<24
	path := s.WriteConfig(`
log_level: error
providers:
  - name: left
    kind: sim
    options:
      sensors: 2
      wake_up_sensors: 0
  - name: right
    kind: sim
    options:
      sensors: 1
`)
	out, err := s.ExecuteCommand(rootCmd, "list", "--config", path, "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{"handle": 1, "name": "left accelerometer 0", "type": 1, "flags": 16, "min_delay_us": 100000},
		{"handle": 2, "name": "left gyroscope 1", "type": 4, "max_delay_us": "<<PRESENCE>>"},
		{"handle": 16777217, "name": "right accelerometer 0 (wake-up)", "flags": 17}
	]`)

	var list []sensors.SensorInfo
	s.Require().NoError(json.Unmarshal([]byte(out), &list))
	s.Require().Len(list, 3)
	s.True(list[2].IsWakeUp())
}

func (s *CommandTestSuite) TestListErrors() {
	s.Run("invalid format", func() {
		_, err := s.ExecuteCommand(rootCmd, "list", "--format", "xml")
		s.ErrorContains(err, "invalid format 'xml'")
	})

	s.Run("no sensors", func() {
		path := s.WriteConfig("providers:\n  - kind: sim\n    options:\n      sensors: 0\n      wake_up_sensors: 0\n")
		_, err := s.ExecuteCommand(rootCmd, "list", "--config", path, "--format", "table")
		s.ErrorIs(err, ErrNoSensors)
	})

	s.Run("unknown provider kind", func() {
		path := s.WriteConfig("providers:\n  - kind: gps\n")
		_, err := s.ExecuteCommand(rootCmd, "list", "--config", path)
		s.ErrorContains(err, `unknown kind "gps"`)
	})

	s.Run("invalid log level", func() {
		_, err := s.ExecuteCommand(rootCmd, "list", "--config", "", "--log-level", "loud")
		s.ErrorContains(err, "invalid log level")
	})
}

func (s *CommandTestSuite) TestRunConsumesAndAcknowledges() {
	// GOAL: The run command drains events and acknowledges wake-up events until the duration ends
	//
	// TEST SCENARIO: fast sim provider → run for 300ms with --dump → summary counts events, dump shows the proxy state
	path := s.WriteConfig(`
log_level: error
providers:
  - name: fast
    kind: sim
    options:
      sensors: 2
      period: 5ms
`)
	out, err := s.ExecuteCommand(rootCmd, "run", "--config", path, "--duration", "300ms", "--period", "5ms", "--dump")
	s.Require().NoError(err)

	s.Contains(out, "fast accelerometer 0")
	s.Contains(out, "fast gyroscope 1 (wake-up)")
	s.Contains(out, "Wake-up events acknowledged:")
	s.NotContains(out, "Wake-up events acknowledged: 0\n")
	s.Contains(out, "===sensormux proxy===")
	s.Contains(out, "State: running")
	s.Contains(out, `sim "fast"`)
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: "boom"},
		{name: "bad value", err: fmt.Errorf("activate: %w", sensors.ErrBadValue), want: "activate: bad value (BAD_VALUE)"},
		{name: "invalid operation", err: sensors.ErrInvalidOperation, want: "invalid operation (INVALID_OPERATION)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatUserError(tt.err))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}

	t.Run("config level is the fallback", func(t *testing.T) {
		logger, err := configureLogger(newCmd(), "verbose", &config.Config{LogLevel: "warn"})
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	})

	t.Run("verbose overrides config", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		logger, err := configureLogger(cmd, "verbose", &config.Config{LogLevel: "warn"})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("log-level overrides verbose", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		require.NoError(t, cmd.Flags().Set("log-level", "error"))
		logger, err := configureLogger(cmd, "verbose", &config.Config{LogLevel: "info"})
		require.NoError(t, err)
		assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())
	})

	t.Run("invalid level", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.Flags().Set("log-level", "loud"))
		_, err := configureLogger(cmd, "verbose", &config.Config{LogLevel: "info"})
		assert.ErrorContains(t, err, "invalid log level")
	})
}
