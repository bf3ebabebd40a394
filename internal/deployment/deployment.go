// Package deployment identifies the machine a screenlogd process is
// running on for the deployment_id field stamped onto every stored frame.
package deployment

import (
	"os"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/haloframe/screenlogd/internal/logging"
)

var log = logging.L("deployment")

// ID returns the OS hostname, encoded lossily to UTF-8, for use as the
// deployment_id reported alongside every captured frame. Falls back to
// os.Hostname if gopsutil's host info is unavailable, and to "unknown" if
// neither source resolves a name.
func ID() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return sanitize(info.Hostname)
	}

	if name, err := os.Hostname(); err == nil && name != "" {
		return sanitize(name)
	}

	log.Warn("could not determine hostname, using fallback deployment id")
	return "unknown"
}

// sanitize replaces invalid UTF-8 sequences with the Unicode replacement
// character rather than failing; hostnames are an operational label, not a
// strict identifier.
func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		out = append(out, r)
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
