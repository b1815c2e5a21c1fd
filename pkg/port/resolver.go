package port

import (
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/picosync/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs   = afero.NewOsFs()
	goos = runtime.GOOS
)

// Resolver locates the serial endpoint of the connected device.
type Resolver interface {
	Resolve() (string, error)
}

// Static always resolves to a port that was configured up front.
type Static struct {
	Port string
}

// Resolve returns the configured port, as long as it exists. Ports that
// can't be stat'd, such as Windows COM ports, are trusted as is.
func (s Static) Resolve() (string, error) {
	if s.Port == "" {
		return "", errors.DeviceNotFound{Pattern: s.Port}
	}

	if _, err := fs.Stat(s.Port); err != nil && goos != "windows" {
		return "", errors.DeviceNotFound{Pattern: s.Port}
	}
	return s.Port, nil
}

// Glob auto-detects the port by matching device paths against a pattern.
type Glob struct {
	Pattern string
}

// Candidates returns every device path matching the pattern, sorted
// lexicographically.
func (g Glob) Candidates() ([]string, error) {
	matches, err := afero.Glob(fs, g.Pattern)
	if err != nil {
		return nil, errors.WithContext(err, "glob")
	}
	sort.Strings(matches)
	return matches, nil
}

// Resolve returns the lexicographically first candidate. The remaining
// candidates are ignored with a warning.
func (g Glob) Resolve() (string, error) {
	if g.Pattern == "" {
		return "", errors.NewFriendlyError("Serial ports can't be "+
			"auto-detected on %s. Set the port with "+
			"`picosync config --port <port>`.", goos)
	}

	candidates, err := g.Candidates()
	if err != nil {
		return "", err
	}

	switch len(candidates) {
	case 0:
		return "", errors.DeviceNotFound{Pattern: g.Pattern}
	case 1:
	default:
		log.WithField("port", candidates[0]).
			WithField("ignored", candidates[1:]).
			Warn("Multiple devices found. Using the first one.")
	}
	return candidates[0], nil
}

// DefaultPattern returns the glob that matches USB CDC serial devices on the
// current platform, or the empty string if the platform has no such
// convention.
func DefaultPattern() string {
	switch goos {
	case "linux":
		return "/dev/ttyACM*"
	case "darwin":
		return "/dev/cu.usbmodem*"
	default:
		return ""
	}
}

// New picks the resolution strategy. An explicitly configured port always
// wins over auto-detection.
func New(staticPort, pattern string) Resolver {
	if staticPort != "" {
		return Static{Port: staticPort}
	}
	if pattern == "" {
		pattern = DefaultPattern()
	}
	return Glob{Pattern: pattern}
}
