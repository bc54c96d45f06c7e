// Package names parses the timestamps embedded in device filenames and
// derives canonical local filenames. The recorder firmware has used three
// naming schemes over its lifetime; parsers are tried in priority order.
package names

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// A parser matches a timestamp prefix of a bare (extension-less) filename
// and returns the parsed time plus the remainder of the name.
type parser struct {
	re     *regexp.Regexp
	layout func(m []string) (time.Time, error)
}

var parsers = []parser{
	// Month-name form: 2025Jul08-160405-Rec59
	{
		re: regexp.MustCompile(`^(\d{4}(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\d{2}-\d{6})`),
		layout: func(m []string) (time.Time, error) {
			return time.Parse("2006Jan02-150405", m[1])
		},
	},
	// Canonical local form written by the downloader: 2025-07-08_16-04-05
	{
		re: regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})`),
		layout: func(m []string) (time.Time, error) {
			return time.Parse("2006-01-02_15-04-05", m[1])
		},
	},
	// Underscore-date form, seconds optional: 2025-07-08_1604 or 2025-07-08_160405
	{
		re: regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}_\d{4}(\d{2})?)`),
		layout: func(m []string) (time.Time, error) {
			if m[2] != "" {
				return time.Parse("2006-01-02_150405", m[1])
			}
			return time.Parse("2006-01-02_1504", m[1])
		},
	},
	// Compact numeric form: 20250708160405
	{
		re: regexp.MustCompile(`^(\d{14})`),
		layout: func(m []string) (time.Time, error) {
			return time.Parse("20060102150405", m[1])
		},
	},
}

// Timestamp extracts the recording timestamp embedded in a device filename.
// Returns ok=false for names that match no known scheme; an unparseable
// name is an expected input, never an error.
func Timestamp(name string) (time.Time, bool) {
	ts, _, ok := split(name)
	return ts, ok
}

// split parses the timestamp prefix and returns the leftover portion of the
// bare name (e.g. "Rec59") with separators trimmed.
func split(name string) (time.Time, string, bool) {
	base := strings.TrimSuffix(name, path.Ext(name))
	for _, p := range parsers {
		m := p.re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		ts, err := p.layout(m)
		if err != nil {
			continue
		}
		rest := strings.TrimLeft(base[len(m[1]):], "-_")
		return ts, rest, true
	}
	return time.Time{}, "", false
}

// NormalizeExt maps device extensions to their local equivalents. The
// recorder's native .hda container is saved locally as .wav.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".hda" {
		return ".wav"
	}
	return ext
}

// LocalName derives the canonical local filename for a device recording:
// a sortable timestamp prefix, the non-date remainder of the device name,
// and the normalized extension. Unparseable names fall back to the device's
// literal filename (normalized extension, no date prefix).
func LocalName(deviceName string) string {
	ext := NormalizeExt(path.Ext(deviceName))
	base := strings.TrimSuffix(deviceName, path.Ext(deviceName))

	ts, rest, ok := split(deviceName)
	if !ok {
		return base + ext
	}
	name := ts.Format("2006-01-02_15-04-05")
	if rest != "" {
		name += "_" + rest
	}
	return name + ext
}

// Normalize produces a comparison key under which a device filename and its
// locally-renamed equivalent collide: lowercase bare name plus normalized
// extension.
func Normalize(name string) string {
	ext := NormalizeExt(path.Ext(name))
	base := strings.TrimSuffix(name, path.Ext(name))
	return strings.ToLower(base) + ext
}

// SameRecording reports whether two filenames plausibly refer to the same
// recording: exact match first, then the normalized equivalence.
func SameRecording(a, b string) bool {
	if a == b {
		return true
	}
	return Normalize(a) == Normalize(b)
}
