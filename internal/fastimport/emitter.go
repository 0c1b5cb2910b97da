// Package fastimport implements spec Component G, the Fast-Import
// Emitter: walking a history.Result and writing the git fast-import
// stream — upstream commits, main commits, upload tags and the final
// branch reset.
//
// Grounded on reposurgeon's Commit.Save/Blob.Save/Tag.Save
// (surgeon/inner.go) for the record shapes (mark/author/committer/
// data-N framing, deleteall before the tree fileop, annotated tag
// bodies) generalized from reposurgeon's in-memory DAG to a stream
// driven directly off history.Result.
package fastimport

import (
	"bufio"
	"fmt"
	"io"

	fqme "gitlab.com/esr/fqme"

	"gitlab.com/esr/gitdebimport/internal/dscpkg"
	"gitlab.com/esr/gitdebimport/internal/history"
	"gitlab.com/esr/gitdebimport/internal/runctx"
)

const fallbackImporterIdentity = "tar-importer <tar-importer@localhost>"

// upstreamCommitterIdentity names whoever is running the import, for
// the synthetic upstream-tarball commits that have no changelog author
// of their own to attribute to. Grounded on the teacher's own
// name/email resolution fallback chain (surgeon/inner.go's whoami):
// try the local user's configured identity first, and fall back to a
// fixed placeholder only if that's unavailable.
func upstreamCommitterIdentity() string {
	name, email, err := fqme.WhoAmI()
	if err != nil || name == "" || email == "" {
		return fallbackImporterIdentity
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Emitter owns the three refs §4.G names and writes one fast-import
// stream to Out.
type Emitter struct {
	Ctx        *runctx.RunContext
	Out        io.Writer
	Remote     string
	Pkg        string
	GitDir     string // the host repository's GIT_DIR
	ScratchDir string // scratch index location, process-scoped tempdir

	w            *bufio.Writer
	nextMark     int
	committerIdn string // memoized upstreamCommitterIdentity()

	stats struct {
		commits, upstreamCommits, tags int
	}
}

func (e *Emitter) newMark() string {
	e.nextMark++
	return fmt.Sprintf(":%d", e.nextMark)
}

// MainBranch and UpstreamBranch are the two import-visible refs the
// emitter grows; refs/heads/<pkg> is the protocol shim's concern.
func (e *Emitter) MainBranch() string {
	return fmt.Sprintf("refs/debian/%s/%s", e.Remote, e.Pkg)
}

func (e *Emitter) UpstreamBranch() string {
	return fmt.Sprintf("refs/upstream/%s/%s", e.Remote, e.Pkg)
}

// Emit streams the whole result: upstream commits first (in enumeration
// order over non-native packages), then main commits and their upload
// tags in graph order, then the final branch reset. The caller seeds
// resolved with result.PreResolved; it grows with every mark this call
// assigns.
func (e *Emitter) Emit(result *history.Result, resolved map[string]string) error {
	e.w = bufio.NewWriter(e.Out)
	defer e.w.Flush()

	if len(result.Order) == 0 {
		return nil
	}

	upstreamMarkOf, err := e.emitUpstreamPhase(result)
	if err != nil {
		return err
	}

	var lastMark string
	for _, v := range result.Order {
		sp := result.Packages[v]
		if sp == nil {
			continue // defensive: builder only places fetched versions in Order
		}
		mark, err := e.emitMainCommit(sp, result.Changelogs[v], resolved, upstreamMarkOf[v])
		if err != nil {
			return fmt.Errorf("fastimport: emitting commit for %s: %w", v, err)
		}
		resolved[v] = mark
		lastMark = mark

		if err := e.emitUploadTags(sp); err != nil {
			return fmt.Errorf("fastimport: emitting upload tags for %s: %w", v, err)
		}
	}

	if lastMark != "" {
		fmt.Fprintf(e.w, "reset %s\nfrom %s\n\n", e.MainBranch(), lastMark)
	}

	if e.Ctx.DebugEnabled() {
		fmt.Fprintf(e.w, "# stats: commits=%d upstream-commits=%d tags=%d\n",
			e.stats.commits, e.stats.upstreamCommits, e.stats.tags)
	}
	return e.w.Flush()
}

// emitUpstreamPhase emits one commit per unique orig_key among the
// non-native packages in result.Order, in enumeration order, and
// returns the mark attached to each version's owning commit — empty
// string for every sibling sharing that orig_key (§4.G: "the first
// owner gets a fresh mark, siblings carry a null mark meaning no merge
// on me").
func (e *Emitter) emitUpstreamPhase(result *history.Result) (map[string]string, error) {
	upstreamMarkOf := map[string]string{}
	seenOrigKey := map[string]string{}

	for _, v := range result.Order {
		sp := result.Packages[v]
		if sp == nil || sp.Native {
			continue
		}
		if _, ok := seenOrigKey[sp.OrigKey]; ok {
			upstreamMarkOf[v] = ""
			continue
		}

		tree, err := writeTree(e.GitDir, e.ScratchDir, sp.UpstreamTree)
		if err != nil {
			return nil, fmt.Errorf("fastimport: writing upstream tree for %s: %w", v, err)
		}
		if e.committerIdn == "" {
			e.committerIdn = upstreamCommitterIdentity()
		}
		mark := e.newMark()
		fmt.Fprintf(e.w, "commit %s\n", e.UpstreamBranch())
		fmt.Fprintf(e.w, "mark %s\n", mark)
		fmt.Fprintf(e.w, "committer %s %d +0000\n", e.committerIdn, sp.UpstreamMtime)
		msg := fmt.Sprintf("Import %s\n", sp.Version.UpstreamVersion())
		fmt.Fprintf(e.w, "data %d\n%s", len(msg), msg)
		fmt.Fprintf(e.w, "deleteall\n")
		fmt.Fprintf(e.w, "M 040000 %s \"\"\n\n", tree)

		seenOrigKey[sp.OrigKey] = mark
		upstreamMarkOf[v] = mark
		e.stats.upstreamCommits++
	}
	return upstreamMarkOf, nil
}

func (e *Emitter) emitMainCommit(sp *dscpkg.SourcePackage, cl interface{ AuthorAttribution() string }, resolved map[string]string, upstreamMark string) (string, error) {
	tree, err := writeTree(e.GitDir, e.ScratchDir, sp.PatchedTree)
	if err != nil {
		return "", fmt.Errorf("writing patched tree: %w", err)
	}
	mark := e.newMark()

	fmt.Fprintf(e.w, "commit %s\n", e.MainBranch())
	fmt.Fprintf(e.w, "mark %s\n", mark)
	fmt.Fprintf(e.w, "committer %s\n", cl.AuthorAttribution())
	msg := fmt.Sprintf("Import %s\n", sp.Version.String())
	fmt.Fprintf(e.w, "data %d\n%s", len(msg), msg)

	if sp.HasPrev {
		if parentRef, ok := resolved[sp.PrevVer]; ok {
			fmt.Fprintf(e.w, "from %s\n", parentRef)
		}
	}
	if upstreamMark != "" {
		fmt.Fprintf(e.w, "merge %s\n", upstreamMark)
	}
	fmt.Fprintf(e.w, "deleteall\n")
	fmt.Fprintf(e.w, "M 040000 %s \"\"\n", tree)
	fmt.Fprintln(e.w)

	fmt.Fprintf(e.w, "reset refs/tags/%s\nfrom %s\n\n", sp.Version.Quote(), mark)
	e.stats.commits++
	return mark, nil
}

// emitUploadTags emits one annotated tag per distinct archive witnessing
// sp, skipping duplicate uploadtags within the version.
func (e *Emitter) emitUploadTags(sp *dscpkg.SourcePackage) error {
	seen := map[string]bool{}
	quoted := sp.Version.Quote()
	for _, w := range sp.Witnesses {
		uploadtag := fmt.Sprintf("%s/%s", w.Archive, quoted)
		if seen[uploadtag] {
			continue
		}
		seen[uploadtag] = true

		firstLine := fmt.Sprintf("Upload %s", sp.Version.String())
		if !w.Good {
			firstLine += fmt.Sprintf(" (%s/%s %s)", w.KeyringName, w.KeyID, w.SigType)
		}
		body := firstLine + "\n\n" + string(w.RawDSC)

		fmt.Fprintf(e.w, "tag %s\n", uploadtag)
		fmt.Fprintf(e.w, "from %s\n", e.MainBranch())
		fmt.Fprintf(e.w, "tagger %s <%s> %d +0000\n", w.SignerName, w.SignerEmail, w.Timestamp)
		fmt.Fprintf(e.w, "data %d\n%s\n", len(body), body)
		e.stats.tags++
	}
	return nil
}
