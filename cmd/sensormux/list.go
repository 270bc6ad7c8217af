package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/sensormux/internal/handle"
	"github.com/srg/sensormux/pkg/sensors"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sensors exposed by the proxy",
	Long: `Build every configured provider and print the merged sensor list.

Handles are proxy handles: the top byte carries the provider index, the rest
is the provider's own handle. Direct-report flags are only kept on the
sensors of the first provider that supports direct channels.`,
	RunE: runList,
}

var listFormat string

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if !slices.Contains(validFormats, listFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", listFormat, validFormats)
	}

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
	defer s.Close()

	list := s.proxy.SensorsList()
	if len(list) == 0 {
		return ErrNoSensors
	}

	if listFormat == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	}
	return displaySensorsTable(cmd.OutOrStdout(), s.proxy.Providers(), list)
}

func displaySensorsTable(out io.Writer, providers []string, list []sensors.SensorInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	heading(out).Fprintln(w, "HANDLE\tPROVIDER\tNAME\tTYPE\tWAKE-UP\tDIRECT\tDELAY (us)")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, info := range list {
		provider := "?"
		if idx := handle.ProviderIndex(info.Handle); idx < len(providers) {
			provider = providers[idx]
		}
		fmt.Fprintf(w, "0x%08x\t%s\t%s\t%s\t%t\t%t\t%d..%d\n",
			uint32(info.Handle), provider, info.Name, info.Type,
			info.IsWakeUp(), info.Flags.SupportsDirect(), info.MinDelay, info.MaxDelay)
	}

	return w.Flush()
}
