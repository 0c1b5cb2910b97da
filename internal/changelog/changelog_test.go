package changelog

import (
	"strings"
	"testing"
)

const sample = `hello (2.10-3) unstable; urgency=medium

  * Non-maintainer upload.
  * Fix FTBFS with newer gcc.

 -- Jane Developer <jane@example.com>  Tue, 01 Jul 2025 12:00:00 +0000

hello (2.10-2) unstable; urgency=medium

  * Previous release.

 -- John Packager <john@example.com>  Mon, 01 Jan 2024 08:30:00 +0000

hello (2.10-1) unstable; urgency=low

  * Initial release.

 -- John Packager <john@example.com>  Sun, 01 Jan 2023 00:00:00 +0000
`

func TestParseBytesOrdersNewestFirst(t *testing.T) {
	cl, err := ParseBytes([]byte(sample))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if len(cl.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(cl.Entries))
	}
	versions := []string{cl.Entries[0].Version, cl.Entries[1].Version, cl.Entries[2].Version}
	want := []string{"2.10-3", "2.10-2", "2.10-1"}
	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("Entries[%d].Version = %q, want %q", i, versions[i], want[i])
		}
	}
}

func TestNewest(t *testing.T) {
	cl, err := ParseBytes([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	e := cl.Newest()
	if e.Version != "2.10-3" {
		t.Errorf("Newest().Version = %q, want 2.10-3", e.Version)
	}
	if e.Author != "Jane Developer" {
		t.Errorf("Newest().Author = %q, want Jane Developer", e.Author)
	}
}

func TestPriorVersions(t *testing.T) {
	cl, err := ParseBytes([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	prior := cl.PriorVersions()
	want := []string{"2.10-2", "2.10-1"}
	if len(prior) != len(want) {
		t.Fatalf("PriorVersions() = %v, want %v", prior, want)
	}
	for i := range want {
		if prior[i] != want[i] {
			t.Errorf("PriorVersions()[%d] = %q, want %q", i, prior[i], want[i])
		}
	}
}

func TestAuthorAttribution(t *testing.T) {
	cl, err := ParseBytes([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	got := cl.AuthorAttribution()
	if !strings.HasPrefix(got, "Jane Developer <jane@example.com> ") {
		t.Errorf("AuthorAttribution() = %q, want it to start with the newest entry's name/email", got)
	}
	if !strings.HasSuffix(got, "+0000") {
		t.Errorf("AuthorAttribution() = %q, want a trailing UTC offset", got)
	}
}

func TestParseBytesRejectsInputWithNoEntries(t *testing.T) {
	if _, err := ParseBytes([]byte("not a changelog at all\n")); err == nil {
		t.Error("ParseBytes should reject input with no recognizable header/trailer pairs")
	}
}

func TestAuthorAttributionMalformedPlaceholder(t *testing.T) {
	cl := &Changelog{Entries: []Entry{{Source: "hello", Version: "1.0-1"}}}
	if got := cl.AuthorAttribution(); got != "<malformed-changelog> 0 +0000" {
		t.Errorf("AuthorAttribution() = %q, want the malformed-changelog placeholder", got)
	}
}

func TestBrokenNamesOnlyTheVersionWithNoPredecessors(t *testing.T) {
	cl := Broken("1.2-3")
	if cl.Newest().Version != "1.2-3" {
		t.Errorf("Broken(%q).Newest().Version = %q, want 1.2-3", "1.2-3", cl.Newest().Version)
	}
	if len(cl.PriorVersions()) != 0 {
		t.Errorf("Broken().PriorVersions() = %v, want none", cl.PriorVersions())
	}
	if got := cl.AuthorAttribution(); got != "<malformed-changelog> 0 +0000" {
		t.Errorf("Broken().AuthorAttribution() = %q, want the malformed-changelog placeholder", got)
	}
}
