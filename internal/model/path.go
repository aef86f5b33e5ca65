// Package model defines the core data types IntDB stores: the switch
// path a flow traveled, the telemetry each hop carried, and the
// assembled flow record itself.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Path is an ordered sequence of switch identifiers. Identifiers are
// treated as opaque byte strings; construction normalizes nothing but
// eagerly computes and caches a stable content hash.
type Path struct {
	switches []string
	hash     string
}

// NewPath builds a Path over switches, computing its content hash.
func NewPath(switches []string) Path {
	cp := make([]string, len(switches))
	copy(cp, switches)
	return Path{switches: cp, hash: hashSwitches(cp)}
}

// hashSwitches feeds each switch id followed by the literal delimiter
// "->" into SHA-256, in order, and hex-encodes the digest. This mirrors
// the original Rust NetworkPath::compute_hash exactly, including the
// trailing delimiter after the last switch, so that ports of this
// engine agree on path hashes byte-for-byte.
func hashSwitches(switches []string) string {
	h := sha256.New()
	for _, s := range switches {
		h.Write([]byte(s))
		h.Write([]byte("->"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Switches returns the ordered switch ids. Callers must not mutate the
// returned slice.
func (p Path) Switches() []string {
	return p.switches
}

// Length returns the number of switches in the path.
func (p Path) Length() int {
	return len(p.switches)
}

// IsEmpty reports whether the path has no switches.
func (p Path) IsEmpty() bool {
	return len(p.switches) == 0
}

// Hash returns the cached content hash, the exact-path index key.
func (p Path) Hash() string {
	return p.hash
}

// ContainsSubpath reports whether subpath appears as a contiguous,
// equal-length window somewhere in the path. An empty subpath always
// matches; a subpath longer than the path never matches.
func (p Path) ContainsSubpath(subpath []string) bool {
	if len(subpath) == 0 {
		return true
	}
	if len(subpath) > len(p.switches) {
		return false
	}
	for start := 0; start+len(subpath) <= len(p.switches); start++ {
		if windowEquals(p.switches[start:start+len(subpath)], subpath) {
			return true
		}
	}
	return false
}

// StartsWith reports whether the path begins with prefix.
func (p Path) StartsWith(prefix []string) bool {
	if len(prefix) > len(p.switches) {
		return false
	}
	return windowEquals(p.switches[:len(prefix)], prefix)
}

// EndsWith reports whether the path ends with suffix.
func (p Path) EndsWith(suffix []string) bool {
	if len(suffix) > len(p.switches) {
		return false
	}
	return windowEquals(p.switches[len(p.switches)-len(suffix):], suffix)
}

// Subpath returns a new Path over switches[start:end). It fails if
// start >= end or end is out of bounds.
func (p Path) Subpath(start, end int) (Path, bool) {
	if start >= end || end > len(p.switches) {
		return Path{}, false
	}
	return NewPath(p.switches[start:end]), true
}

// Source returns the first switch in the path, if any.
func (p Path) Source() (string, bool) {
	if len(p.switches) == 0 {
		return "", false
	}
	return p.switches[0], true
}

// Destination returns the last switch in the path, if any.
func (p Path) Destination() (string, bool) {
	if len(p.switches) == 0 {
		return "", false
	}
	return p.switches[len(p.switches)-1], true
}

// String renders the path as "s1 -> s2 -> s3".
func (p Path) String() string {
	return strings.Join(p.switches, " -> ")
}

func windowEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
