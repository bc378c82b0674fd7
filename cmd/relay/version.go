package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion prefers RELAY_VERSION, then the module version stamped by
// go install, then "dev".
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion(os.LookupEnv, debug.ReadBuildInfo)
	})
	return cachedVersion
}

func detectVersion(lookup func(string) (string, bool), buildInfo func() (*debug.BuildInfo, bool)) string {
	if v, ok := lookup("RELAY_VERSION"); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	if info, ok := buildInfo(); ok && info != nil {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return "dev-" + setting.Value[:7]
			}
		}
	}
	return "dev"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", appVersion())
		},
	}
}
