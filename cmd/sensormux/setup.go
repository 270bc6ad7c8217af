package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sensormux/internal/metrics"
	"github.com/srg/sensormux/internal/wakelock"
	"github.com/srg/sensormux/pkg/config"
	"github.com/srg/sensormux/pkg/registry"
	"github.com/srg/sensormux/pkg/sensors"
	"github.com/srg/sensormux/providers/sim"
	"github.com/srg/sensormux/proxy"
	"golang.org/x/term"
)

// loadConfig reads --config, or returns the defaults with a single simulated
// provider when no file is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := config.DefaultConfig()
		cfg.Providers = []config.ProviderConfig{{Kind: sim.Kind}}
		return cfg, nil
	}
	return config.Load(path)
}

// session is a proxy together with the providers it owns.
type session struct {
	proxy     *proxy.Proxy
	providers []sensors.Provider
	metrics   *metrics.Collector
}

func newSession(cfg *config.Config, logger *logrus.Logger) (*session, error) {
	providers, err := registry.Default.Build(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&cfg.Metrics)
	if err != nil {
		return nil, err
	}

	var locker wakelock.Locker = wakelock.NopLocker{}
	if cfg.WakeLock.Backend == config.WakeLockBackendSysfs {
		locker = wakelock.NewSysfsLocker(cfg.WakeLock.SysfsDir)
	}

	p, err := proxy.New(providers, proxy.Options{
		WakeLockName:        cfg.WakeLock.Name,
		WakeLockTimeout:     cfg.WakeLock.Timeout,
		WakeLockHistorySize: cfg.WakeLock.HistorySize,
		Locker:              locker,
		MaxPendingEvents:    cfg.MaxPendingEvents,
		PendingWriteTimeout: cfg.PendingWriteTimeout,
		Logger:              logger,
		Metrics:             collector,
	})
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	return &session{proxy: p, providers: providers, metrics: collector}, nil
}

// Close stops the proxy and any provider that owns goroutines.
func (s *session) Close() error {
	err := s.proxy.Close()
	for _, p := range s.providers {
		if c, ok := p.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

// heading returns a bold color printer, disabled unless w is a terminal.
func heading(w io.Writer) *color.Color {
	c := color.New(color.Bold, color.FgCyan)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}
