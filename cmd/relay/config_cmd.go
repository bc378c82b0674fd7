package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"relay/internal/shared/config"
)

var configSections = []string{"telegram", "projects", "agent", "streaming", "supervisor", "server", "tracing", "workbench"}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect relay configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration and where each section came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), cfg, meta)
		},
	})
	return cmd
}

func showConfig(out io.Writer, cfg config.RuntimeConfig, meta config.Metadata) error {
	rendered, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# config file: %s\n", describeConfigPath(meta.Path()))
	for _, section := range configSections {
		fmt.Fprintf(out, "# %-10s %s\n", section, meta.Source(section))
	}
	if overridden := overriddenKeys(meta); len(overridden) > 0 {
		fmt.Fprintln(out, "# keys set outside defaults:")
		for _, line := range overridden {
			fmt.Fprintf(out, "#   %s\n", line)
		}
	}
	_, err = out.Write(rendered)
	return err
}

func overriddenKeys(meta config.Metadata) []string {
	var lines []string
	for key, source := range meta.Sources() {
		if source == config.SourceDefault || !strings.Contains(key, ".") {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", key, source))
	}
	sort.Strings(lines)
	return lines
}
