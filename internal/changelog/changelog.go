// Package changelog implements spec Component E, the Changelog Reader:
// producing the ordered list of prior versions a debian/changelog
// declares and the newest entry's author and date.
//
// Grounded on reposurgeon's Attribution type (surgeon/inner.go
// newAttribution/parseAttributionLine) for the "Name <email> date"
// parsing idiom, reused here since a changelog trailer line has the same
// shape as a commit attribution line.
package changelog

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
)

// Entry is one changelog stanza.
type Entry struct {
	Source       string
	Version      string
	Distribution string
	Author       string
	Email        string
	Date         time.Time
	RawDate      string
}

// Changelog is the ordered (newest-first) sequence of entries parsed
// from one debian/changelog file.
type Changelog struct {
	Entries []Entry
}

var (
	headerRE  = regexp.MustCompile(`^(\S+) \(([^)]+)\) ([^;]+);`)
	trailerRE = regexp.MustCompile(`^ -- (.*) <([^>]*)>  (.+)$`)
)

// attributionDateLayouts mirrors the RFC-2822-ish formats debian
// changelog trailers use; the first that parses wins.
var attributionDateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, _2 Jan 2006 15:04:05 -0700",
}

// ParseBytes parses a whole debian/changelog file already read into
// memory. If the bytes are not valid UTF-8, it retries by decoding as
// Latin-1 (§7's "encoding not recoverable via byte-level sniffing" names
// the failure mode when even that does not produce valid text).
func ParseBytes(data []byte) (*Changelog, error) {
	if !utf8.Valid(data) {
		enc, err := ianaindex.IANA.Encoding("ISO-8859-1")
		if err != nil || enc == nil {
			return nil, fmt.Errorf("changelog: encoding not recoverable via byte-level sniffing")
		}
		recovered, err := enc.NewDecoder().Bytes(data)
		if err != nil || !utf8.Valid(recovered) {
			return nil, fmt.Errorf("changelog: encoding not recoverable via byte-level sniffing")
		}
		data = recovered
	}

	cl := &Changelog{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *Entry
	for scanner.Scan() {
		line := scanner.Text()
		if m := headerRE.FindStringSubmatch(line); m != nil {
			if current != nil {
				cl.Entries = append(cl.Entries, *current)
			}
			current = &Entry{Source: m[1], Version: m[2], Distribution: strings.TrimSpace(m[3])}
			continue
		}
		if m := trailerRE.FindStringSubmatch(line); m != nil && current != nil {
			current.Author = strings.TrimSpace(m[1])
			current.Email = m[2]
			current.RawDate = m[3]
			current.Date = parseDate(m[3])
		}
	}
	if current != nil {
		cl.Entries = append(cl.Entries, *current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("changelog: scanning: %w", err)
	}
	if len(cl.Entries) == 0 {
		return nil, fmt.Errorf("changelog: no entries parsed")
	}
	return cl, nil
}

func parseDate(raw string) time.Time {
	for _, layout := range attributionDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Broken returns a degenerate single-entry Changelog naming only
// version, for a debian/changelog that could not be read or parsed at
// all. Its author/date are left zero, so AuthorAttribution falls back
// to the malformed-changelog placeholder and PriorVersions reports no
// candidates — the caller still gets a version to emit as a root
// rather than having to drop it outright (§7).
func Broken(version string) *Changelog {
	return &Changelog{Entries: []Entry{{Version: version}}}
}

// PriorVersions returns every version after the newest entry, in the
// newest-first order the changelog lists them — the candidate
// predecessor chain §4.F's builder walks.
func (cl *Changelog) PriorVersions() []string {
	out := make([]string, 0, len(cl.Entries)-1)
	for _, e := range cl.Entries[1:] {
		out = append(out, e.Version)
	}
	return out
}

// Newest returns the first (newest) entry.
func (cl *Changelog) Newest() Entry {
	return cl.Entries[0]
}

// AuthorAttribution renders the newest entry's author+date as a
// fast-import attribution line ("Name <email> unixtime zone"), or the
// malformed-changelog placeholder the spec names when parsing failed.
func (cl *Changelog) AuthorAttribution() string {
	e := cl.Newest()
	if e.Author == "" || e.Date.IsZero() {
		return "<malformed-changelog> 0 +0000"
	}
	_, offset := e.Date.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %s%02d%02d",
		e.Author, e.Email, e.Date.Unix(), sign, offset/3600, (offset%3600)/60)
}
