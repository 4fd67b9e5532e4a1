package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version and Commit are stamped by release builds through ldflags. A
// plain source build reports module metadata instead.
var (
	Version = "dev"
	Commit  = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildDescription())
	},
}

func buildDescription() string {
	v := Version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	s := fmt.Sprintf("accord %s %s/%s %s", v, runtime.GOOS, runtime.GOARCH, runtime.Version())
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return s
}
