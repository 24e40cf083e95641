package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const appName = "personarelay"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo reports the build time and the Go toolchain, falling back
// to the embedded module info when ldflags were not set.
func formatBuildInfo() (string, string) {
	goVer := runtime.Version()
	built := buildTime
	if built == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.time" {
					built = s.Value
				}
			}
		}
	}
	return built, goVer
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	built, goVer := formatBuildInfo()
	if built != "" {
		fmt.Fprintf(w, "  Build: %s\n", built)
	}
	fmt.Fprintf(w, "  Go: %s\n", goVer)
}

// getConfigPath honors PERSONARELAY_CONFIG before the default location.
func getConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("PERSONARELAY_CONFIG")); p != "" {
		return config.ExpandHome(p)
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
