package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sensormux/internal/fmq"
	"github.com/srg/sensormux/pkg/sensors"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxy with a built-in consumer",
	Long: `Initialize the proxy, activate every sensor and consume events until the
duration elapses or Ctrl+C is pressed.

The built-in consumer acknowledges every wake-up event it reads so the shared
wake-lock is released as the framework would release it. A per-sensor event
count is printed on exit.`,
	RunE: runRun,
}

var (
	runDuration    time.Duration
	runPeriod      time.Duration
	runMetricsAddr string
	runDump        bool
)

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 10*time.Second, "Run duration (0 for indefinite)")
	runCmd.Flags().DurationVar(&runPeriod, "period", 100*time.Millisecond, "Sampling period requested for every sensor")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	runCmd.Flags().BoolVar(&runDump, "dump", false, "Print the proxy debug dump on exit")
}

// consumer stands in for the sensor framework: it reads events, acknowledges
// wake-up events and tracks dynamic sensors.
type consumer struct {
	logger *logrus.Logger

	mu     sync.Mutex
	wakeUp map[int32]bool
	names  map[int32]string
	counts map[int32]int
	acked  uint64
}

func newConsumer(list []sensors.SensorInfo, logger *logrus.Logger) *consumer {
	c := &consumer{
		logger: logger,
		wakeUp: make(map[int32]bool, len(list)),
		names:  make(map[int32]string, len(list)),
		counts: make(map[int32]int, len(list)),
	}
	for _, info := range list {
		c.wakeUp[info.Handle] = info.IsWakeUp()
		c.names[info.Handle] = info.Name
	}
	return c
}

func (c *consumer) OnDynamicSensorsConnected(added []sensors.SensorInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range added {
		c.wakeUp[info.Handle] = info.IsWakeUp()
		c.names[info.Handle] = info.Name
		c.logger.WithFields(logrus.Fields{
			"handle": fmt.Sprintf("0x%08x", uint32(info.Handle)),
			"name":   info.Name,
		}).Info("Dynamic sensor connected")
	}
}

func (c *consumer) OnDynamicSensorsDisconnected(removed []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range removed {
		delete(c.wakeUp, h)
		c.logger.WithField("handle", fmt.Sprintf("0x%08x", uint32(h))).Info("Dynamic sensor disconnected")
	}
}

// consume counts events and returns how many of them are wake-up events.
func (c *consumer) consume(events []sensors.Event) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var wake uint32
	for _, ev := range events {
		c.counts[ev.SensorHandle]++
		if c.wakeUp[ev.SensorHandle] {
			wake++
		}
	}
	c.acked += uint64(wake)
	return wake
}

func (c *consumer) summary(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := make([]int32, 0, len(c.counts))
	for h := range c.counts {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	heading(w).Fprintln(tw, "HANDLE\tNAME\tEVENTS")
	fmt.Fprintln(tw, strings.Repeat("-", 48))
	for _, h := range handles {
		fmt.Fprintf(tw, "0x%08x\t%s\t%d\n", uint32(h), c.names[h], c.counts[h])
	}
	fmt.Fprintf(tw, "\nWake-up events acknowledged: %d\n", c.acked)
	return tw.Flush()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to close proxy")
		}
	}()

	list := s.proxy.SensorsList()
	if len(list) == 0 {
		return ErrNoSensors
	}

	if runMetricsAddr != "" {
		srv := &http.Server{Addr: runMetricsAddr, Handler: s.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer srv.Close()
		logger.WithField("addr", runMetricsAddr).Info("Serving metrics")
	}

	events := fmq.NewEventQueue(cfg.EventQueueSize)
	acks := fmq.NewAckQueue(cfg.AckQueueSize)
	c := newConsumer(list, logger)

	if err := s.proxy.Initialize(events, acks, c); err != nil {
		return fmt.Errorf("initialize proxy: %w", err)
	}

	for _, info := range list {
		if err := s.proxy.Batch(info.Handle, runPeriod, 0); err != nil {
			logger.WithError(err).WithField("sensor", info.Name).Warn("Batch failed")
		}
		if err := s.proxy.Activate(info.Handle, true); err != nil {
			return fmt.Errorf("activate %s: %w", info.Name, err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("sensors", len(list)).Info("Consuming events")
	for ctx.Err() == nil {
		batch := events.ReadBlocking(events.Quantum(), 100*time.Millisecond)
		if len(batch) == 0 {
			continue
		}
		if wake := c.consume(batch); wake > 0 {
			if err := acks.Write(wake); err != nil {
				logger.WithError(err).Warn("Failed to acknowledge wake-up events")
			}
		}
	}

	for _, info := range s.proxy.SensorsList() {
		_ = s.proxy.Activate(info.Handle, false)
	}

	out := cmd.OutOrStdout()
	if err := c.summary(out); err != nil {
		return err
	}
	if runDump {
		fmt.Fprintln(out)
		return s.proxy.Dump(out)
	}
	return nil
}
