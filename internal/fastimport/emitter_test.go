package fastimport

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/esr/gitdebimport/internal/changelog"
	"gitlab.com/esr/gitdebimport/internal/dscpkg"
	"gitlab.com/esr/gitdebimport/internal/history"
	"gitlab.com/esr/gitdebimport/internal/runctx"
	debver "gitlab.com/esr/gitdebimport/internal/version"
)

func TestNewMark(t *testing.T) {
	e := &Emitter{}
	if got := e.newMark(); got != ":1" {
		t.Errorf("first newMark() = %q, want :1", got)
	}
	if got := e.newMark(); got != ":2" {
		t.Errorf("second newMark() = %q, want :2", got)
	}
}

func TestBranchNames(t *testing.T) {
	e := &Emitter{Remote: "origin", Pkg: "hello"}
	if got := e.MainBranch(); got != "refs/debian/origin/hello" {
		t.Errorf("MainBranch() = %q, want refs/debian/origin/hello", got)
	}
	if got := e.UpstreamBranch(); got != "refs/upstream/origin/hello" {
		t.Errorf("UpstreamBranch() = %q, want refs/upstream/origin/hello", got)
	}
}

func TestEmitUploadTagsDedupesByArchive(t *testing.T) {
	var buf bytes.Buffer
	e := &Emitter{Remote: "origin", Pkg: "hello", w: bufio.NewWriter(&buf)}
	sp := &dscpkg.SourcePackage{
		Version: debver.Parse("1.0-1"),
		Witnesses: []dscpkg.SigWitness{
			{Archive: "debian", SignerName: "Jane", SignerEmail: "jane@example.com", Good: true, RawDSC: []byte("dsc-one")},
			{Archive: "debian", SignerName: "Jane", SignerEmail: "jane@example.com", Good: true, RawDSC: []byte("dsc-one")},
			{Archive: "debian-security", SignerName: "Jane", SignerEmail: "jane@example.com", Good: true, RawDSC: []byte("dsc-two")},
		},
	}
	if err := e.emitUploadTags(sp); err != nil {
		t.Fatalf("emitUploadTags: %v", err)
	}
	e.w.Flush()
	out := buf.String()
	if got := strings.Count(out, "tag debian/1.0-1\n"); got != 1 {
		t.Errorf("expected exactly one debian/1.0-1 tag record, counted %d in:\n%s", got, out)
	}
	if got := strings.Count(out, "tag debian-security/1.0-1\n"); got != 1 {
		t.Errorf("expected exactly one debian-security/1.0-1 tag record, counted %d in:\n%s", got, out)
	}
	if e.stats.tags != 2 {
		t.Errorf("stats.tags = %d, want 2", e.stats.tags)
	}
}

func TestEmitUploadTagsMarksNonCanonicalSignature(t *testing.T) {
	var buf bytes.Buffer
	e := &Emitter{w: bufio.NewWriter(&buf)}
	sp := &dscpkg.SourcePackage{
		Version: debver.Parse("1.0-1"),
		Witnesses: []dscpkg.SigWitness{
			{Archive: "debian", SignerName: "Jane", SignerEmail: "jane@example.com", Good: false, KeyringName: "local", KeyID: "ABCD", SigType: "GOODSIG", RawDSC: []byte("dsc")},
		},
	}
	e.emitUploadTags(sp)
	e.w.Flush()
	out := buf.String()
	if !strings.Contains(out, "Upload 1.0-1 (local/ABCD GOODSIG)") {
		t.Errorf("expected non-canonical signature annotation in tag body, got:\n%s", out)
	}
}

func requireGitForEmitter(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	gitDir := t.TempDir()
	if out, err := exec.Command("git", "init", "--bare", gitDir).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %s: %v", out, err)
	}
	return gitDir
}

func makeTreeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		os.MkdirAll(filepath.Dir(full), 0755)
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testChangelog(t *testing.T, version string) *changelog.Changelog {
	t.Helper()
	data := "hello (" + version + ") unstable; urgency=medium\n\n  * Change.\n\n -- Jane Developer <jane@example.com>  Mon, 01 Jan 2024 00:00:00 +0000\n"
	cl, err := changelog.ParseBytes([]byte(data))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	return cl
}

func TestEmitMainCommitWritesFromAndTagReset(t *testing.T) {
	gitDir := requireGitForEmitter(t)
	e := &Emitter{
		Ctx:        runctx.New("hello", "origin"),
		Remote:     "origin",
		Pkg:        "hello",
		GitDir:     gitDir,
		ScratchDir: t.TempDir(),
	}
	var buf bytes.Buffer
	e.w = bufio.NewWriter(&buf)

	sp := &dscpkg.SourcePackage{
		Version:     debver.Parse("1.0-1"),
		PatchedTree: makeTreeDir(t, map[string]string{"debian/control": "Source: hello\n"}),
		HasPrev:     false,
	}
	resolved := map[string]string{}
	mark, err := e.emitMainCommit(sp, testChangelog(t, "1.0-1"), resolved, "")
	if err != nil {
		t.Fatalf("emitMainCommit: %v", err)
	}
	e.w.Flush()
	out := buf.String()

	if mark != ":1" {
		t.Errorf("mark = %q, want :1", mark)
	}
	if !strings.Contains(out, "commit refs/debian/origin/hello\n") {
		t.Errorf("expected a commit record on the main branch, got:\n%s", out)
	}
	// The per-version tag reset that follows the commit record carries its
	// own "from <mark>" line; only the commit record itself is checked.
	commitRecord := strings.SplitN(out, "reset refs/tags/", 2)[0]
	if strings.Contains(commitRecord, "from ") {
		t.Errorf("a root commit (HasPrev=false) should emit no 'from' line, got:\n%s", out)
	}
	if !strings.Contains(out, "reset refs/tags/1.0-1\nfrom :1\n") {
		t.Errorf("expected a per-version tag reset, got:\n%s", out)
	}
}

func TestEmitMainCommitEmitsFromForNonRootVersion(t *testing.T) {
	gitDir := requireGitForEmitter(t)
	e := &Emitter{
		Ctx:        runctx.New("hello", "origin"),
		Remote:     "origin",
		Pkg:        "hello",
		GitDir:     gitDir,
		ScratchDir: t.TempDir(),
	}
	var buf bytes.Buffer
	e.w = bufio.NewWriter(&buf)

	sp := &dscpkg.SourcePackage{
		Version:     debver.Parse("1.0-2"),
		PatchedTree: makeTreeDir(t, map[string]string{"debian/control": "Source: hello\n"}),
		HasPrev:     true,
		PrevVer:     "1.0-1",
	}
	resolved := map[string]string{"1.0-1": ":7"}
	if _, err := e.emitMainCommit(sp, testChangelog(t, "1.0-2"), resolved, ""); err != nil {
		t.Fatalf("emitMainCommit: %v", err)
	}
	e.w.Flush()
	if !strings.Contains(buf.String(), "from :7\n") {
		t.Errorf("expected 'from :7' line for a version whose predecessor already has a mark, got:\n%s", buf.String())
	}
}

func TestEmitMainCommitOmitsFromWhenParentUnresolved(t *testing.T) {
	gitDir := requireGitForEmitter(t)
	e := &Emitter{
		Ctx:        runctx.New("hello", "origin"),
		Remote:     "origin",
		Pkg:        "hello",
		GitDir:     gitDir,
		ScratchDir: t.TempDir(),
	}
	var buf bytes.Buffer
	e.w = bufio.NewWriter(&buf)

	sp := &dscpkg.SourcePackage{
		Version:     debver.Parse("1.0-2"),
		PatchedTree: makeTreeDir(t, map[string]string{"debian/control": "Source: hello\n"}),
		HasPrev:     true,
		PrevVer:     "1.0-1", // not present in resolved
	}
	resolved := map[string]string{}
	if _, err := e.emitMainCommit(sp, testChangelog(t, "1.0-2"), resolved, ""); err != nil {
		t.Fatalf("emitMainCommit: %v", err)
	}
	e.w.Flush()
	commitRecord := strings.SplitN(buf.String(), "reset refs/tags/", 2)[0]
	if strings.Contains(commitRecord, "from ") {
		t.Errorf("an unresolved predecessor should not produce a 'from' line, got:\n%s", buf.String())
	}
}

func TestEmitUpstreamPhaseDedupesByOrigKey(t *testing.T) {
	gitDir := requireGitForEmitter(t)
	e := &Emitter{
		Ctx:        runctx.New("hello", "origin"),
		Remote:     "origin",
		Pkg:        "hello",
		GitDir:     gitDir,
		ScratchDir: t.TempDir(),
	}
	var buf bytes.Buffer
	e.w = bufio.NewWriter(&buf)

	upstreamDir := makeTreeDir(t, map[string]string{"hello.c": "int main(){}\n"})
	sp1 := &dscpkg.SourcePackage{Version: debver.Parse("1.0-1"), Native: false, OrigKey: "samehash", UpstreamTree: upstreamDir, UpstreamMtime: 1000}
	sp2 := &dscpkg.SourcePackage{Version: debver.Parse("1.0-2"), Native: false, OrigKey: "samehash", UpstreamTree: upstreamDir, UpstreamMtime: 1000}

	result := &history.Result{
		Order:    []string{"1.0-1", "1.0-2"},
		Packages: map[string]*dscpkg.SourcePackage{"1.0-1": sp1, "1.0-2": sp2},
	}
	marks, err := e.emitUpstreamPhase(result)
	if err != nil {
		t.Fatalf("emitUpstreamPhase: %v", err)
	}
	if marks["1.0-1"] == "" {
		t.Error("first owner of an orig_key should get a non-empty mark")
	}
	if marks["1.0-2"] != "" {
		t.Errorf("sibling sharing orig_key should get an empty mark, got %q", marks["1.0-2"])
	}
	e.w.Flush()
	if got := strings.Count(buf.String(), "commit refs/upstream/origin/hello\n"); got != 1 {
		t.Errorf("expected exactly one upstream commit for a shared orig_key, counted %d", got)
	}
	if e.stats.upstreamCommits != 1 {
		t.Errorf("stats.upstreamCommits = %d, want 1", e.stats.upstreamCommits)
	}
}

func TestEmitProducesFinalResetAndStatsTrailer(t *testing.T) {
	gitDir := requireGitForEmitter(t)
	ctx := runctx.New("hello", "origin")
	ctx.SetVerbosity(2)
	e := &Emitter{
		Ctx:        ctx,
		Remote:     "origin",
		Pkg:        "hello",
		GitDir:     gitDir,
		ScratchDir: t.TempDir(),
	}
	var buf bytes.Buffer
	e.Out = &buf

	sp := &dscpkg.SourcePackage{
		Version:     debver.Parse("1.0-1"),
		Native:      true,
		PatchedTree: makeTreeDir(t, map[string]string{"debian/control": "Source: hello\n"}),
	}
	result := &history.Result{
		Order:      []string{"1.0-1"},
		Packages:   map[string]*dscpkg.SourcePackage{"1.0-1": sp},
		Changelogs: map[string]*changelog.Changelog{"1.0-1": testChangelog(t, "1.0-1")},
	}
	if err := e.Emit(result, map[string]string{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "reset refs/debian/origin/hello\nfrom :1\n") {
		t.Errorf("expected a final branch reset to the last mark, got:\n%s", out)
	}
	if !strings.Contains(out, "# stats: commits=1 upstream-commits=0 tags=0") {
		t.Errorf("expected a stats trailer when debug logging is enabled, got:\n%s", out)
	}
}

func TestEmitNoopOnEmptyOrder(t *testing.T) {
	e := &Emitter{Ctx: runctx.New("hello", "origin")}
	var buf bytes.Buffer
	e.Out = &buf
	if err := e.Emit(&history.Result{}, map[string]string{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Emit with an empty Order should write nothing, got %q", buf.String())
	}
}
