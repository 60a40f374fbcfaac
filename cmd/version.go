package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/spigell/jobbot/cmd.version=...".
var version = "unknown"

var readBuildInfo = debug.ReadBuildInfo

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the commit it was built from",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionString falls back to the module version and vcs revision stamped by
// go build when no version was set at link time.
func versionString() string {
	v, revision := version, ""
	if info, ok := readBuildInfo(); ok {
		if v == "unknown" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				revision = s.Value[:7]
			}
		}
	}

	if revision == "" {
		return fmt.Sprintf("%s version: %s", app, v)
	}
	return fmt.Sprintf("%s version: %s (%s)", app, v, revision)
}
