// Package version exposes build-time version metadata.
package version

import "runtime"

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the version metadata as a map, suitable for logging.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}
