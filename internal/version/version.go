// Package version wraps pault.ag/go/debian/version with the tag-quoting
// rules §3 of the spec defines on top of plain Debian version ordering.
package version

import (
	"strings"

	debversion "pault.ag/go/debian/version"
)

// Version is a Debian version string with the standard total order
// (epoch, upstream, revision). History order is taken from changelogs,
// not from this order — this type exists for display sorting and for
// the tag-name quoting rules only.
type Version struct {
	raw    string
	parsed debversion.Version
	valid  bool
}

// Parse builds a Version from its string form. An unparseable version
// string is retained verbatim (raw) with valid=false; callers that need
// ordering treat unparseable versions as sorting last.
func Parse(raw string) Version {
	v := Version{raw: raw}
	if parsed, err := debversion.Parse(raw); err == nil {
		v.parsed = parsed
		v.valid = true
	}
	return v
}

// String returns the version exactly as supplied.
func (v Version) String() string {
	return v.raw
}

// Compare orders two versions by the standard Debian algorithm. Invalid
// versions compare greater than any valid version and are ordered among
// themselves by plain string comparison, so they sort last and
// deterministically.
func (v Version) Compare(other Version) int {
	switch {
	case v.valid && other.valid:
		return debversion.Compare(v.parsed, other.parsed)
	case v.valid && !other.valid:
		return -1
	case !v.valid && other.valid:
		return 1
	default:
		return strings.Compare(v.raw, other.raw)
	}
}

// Equal reports whether v and other name the same version string.
func (v Version) Equal(other Version) bool {
	return v.raw == other.raw
}

// Valid reports whether the version string parsed as a well-formed
// Debian version.
func (v Version) Valid() bool {
	return v.valid
}

// WithoutEpoch returns "upstream[-revision]" with any "N:" epoch prefix
// stripped, used by §4.C's filename match patterns.
func (v Version) WithoutEpoch() string {
	if i := strings.IndexByte(v.raw, ':'); i >= 0 {
		return v.raw[i+1:]
	}
	return v.raw
}

// UpstreamVersion returns the non-native "upstream_version" named in
// §4.G's upstream commit message: the epoch stripped, and everything
// after the last '-' (the Debian revision) dropped. A version with no
// '-' is already upstream-only and is returned unchanged.
func (v Version) UpstreamVersion() string {
	s := v.WithoutEpoch()
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}

// quoteReplacer and unquoteReplacer implement the tag-name quoting rule:
// ':' -> '%', '~' -> '_'. Both characters are illegal in git ref
// components so every upload tag must pass through this transform.
var quoteReplacer = strings.NewReplacer(":", "%", "~", "_")
var unquoteReplacer = strings.NewReplacer("%", ":", "_", "~")

// Quote renders the canonical quoted form used for tag names.
func (v Version) Quote() string {
	return quoteReplacer.Replace(v.raw)
}

// Unquote reverses Quote. Round-trips for every Debian-legal version
// string, since ':' and '~' never appear in a quoted version and '%'/'_'
// never appear in an unquoted one (both are excluded by Debian policy's
// version-string grammar).
func Unquote(quoted string) string {
	return unquoteReplacer.Replace(quoted)
}

// Less reports v < other, for use with sort.Slice.
func Less(v, other Version) bool {
	return v.Compare(other) < 0
}
