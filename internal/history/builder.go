// Package history implements spec Component F, the History Graph
// Builder: given the snapshot archive's version list, resolve
// predecessors, detect ghosts and loops, decide which versions need
// importing, and compute a safe emission order.
//
// Grounded on github.com/emirpasic/gods/sets/linkedhashset (already in
// the teacher's require block) for the insertion-order-deterministic
// working-version set and successors map §4.F's determinism clause
// requires.
package history

import (
	"github.com/emirpasic/gods/sets/linkedhashset"

	"gitlab.com/esr/gitdebimport/internal/changelog"
	"gitlab.com/esr/gitdebimport/internal/dscpkg"
	"gitlab.com/esr/gitdebimport/internal/runctx"
)

// Fetcher is the subset of snapshot+unpack+changelog behavior the
// builder needs to resolve one version. It is implemented by the
// protocol shim's wiring of Components A, D and E.
type Fetcher interface {
	// Fetch downloads, verifies, unpacks and reads the changelog for
	// version. It returns (nil, nil, *runctx.MissingSourceError) when the
	// archive has nothing for this version.
	Fetch(version string) (*dscpkg.SourcePackage, *changelog.Changelog, error)
}

// Resolved reports whether version's tag already resolves in the host
// repository, and if so, to what commit id.
type Resolved func(version string) (commitID string, ok bool)

// Builder runs the two-pass algorithm of §4.F.
type Builder struct {
	Ctx       *runctx.RunContext
	Fetcher   Fetcher
	Resolved  Resolved
	Depth     int // 0 means unlimited
	SkipSet   map[string]bool

	ghosts []string
}

// Result is everything the Fast-Import Emitter needs to walk the graph.
type Result struct {
	// Order is the emission order computed by the second pass.
	Order []string
	// Packages holds the unpacked, classified SourcePackage for every
	// version in Order.
	Packages map[string]*dscpkg.SourcePackage
	// Changelogs holds the parsed changelog for every version in Order.
	Changelogs map[string]*changelog.Changelog
	// PreResolved holds versions whose tag already existed before this
	// run (step 1): the emitter should not re-emit them.
	PreResolved map[string]string
	// Ghosts lists every version mentioned in a changelog but absent
	// from the working version set and the skip set.
	Ghosts []string
}

// Run executes the builder over versionsNewestFirst, the archive's
// publication-order version list (spec §4.A).
func (b *Builder) Run(versionsNewestFirst []string) (*Result, error) {
	windowed := versionsNewestFirst
	if b.Depth > 0 && b.Depth < len(windowed) {
		windowed = windowed[:b.Depth]
	}
	inWindow := map[string]bool{}
	for _, v := range windowed {
		inWindow[v] = true
	}

	working := linkedhashset.New()  // oldest-first insertion order
	packages := map[string]*dscpkg.SourcePackage{}
	changelogs := map[string]*changelog.Changelog{}
	preResolved := map[string]string{}
	prevOf := map[string]string{}
	hasPrev := map[string]bool{}
	successors := map[string][]string{}
	rootsAndCuts := linkedhashset.New()

	// Pass one walks oldest-first even though the input is
	// newest-first, per §4.F.
	for i := len(windowed) - 1; i >= 0; i-- {
		v := windowed[i]
		if b.SkipSet[v] {
			continue
		}
		if commitID, ok := b.Resolved(v); ok {
			preResolved[v] = commitID
			working.Add(v)
			continue
		}

		sp, cl, err := b.Fetcher.Fetch(v)
		if err != nil {
			if _, isMissing := err.(*runctx.MissingSourceError); isMissing {
				b.Ctx.Warnf("history: %s: no source in archive, dropping", v)
				continue
			}
			b.Ctx.Warnf("history: %s: fetch failed: %v", v, err)
			continue
		}
		packages[v] = sp
		changelogs[v] = cl
		working.Add(v)

		if cl.Newest().Version != v {
			b.Ctx.Warnf("history: %s: changelog's newest entry names %s, skipping predecessor resolution",
				v, cl.Newest().Version)
			rootsAndCuts.Add(v)
			continue
		}

		prior := cl.PriorVersions()
		prevFound := ""
		for _, candidate := range prior {
			if working.Contains(candidate) {
				prevFound = candidate
				break
			}
			if !b.SkipSet[candidate] {
				b.ghosts = append(b.ghosts, candidate)
			}
		}

		if prevFound == "" {
			rootsAndCuts.Add(v)
			continue
		}
		prevOf[v] = prevFound
		hasPrev[v] = true
		successors[prevFound] = append(successors[prevFound], v)

		if _, wasPreResolved := preResolved[prevFound]; wasPreResolved || !inWindow[prevFound] {
			rootsAndCuts.Add(v)
		}
	}

	for v, sp := range packages {
		if hasPrev[v] {
			sp.PrevVer = prevOf[v]
			sp.HasPrev = true
		}
	}

	// Pass two: BFS from the initial enqueue set, following successors.
	order := make([]string, 0, working.Size())
	done := map[string]bool{}
	queue := rootsAndCuts.Values()
	qi := 0
	queued := map[string]bool{}
	for _, v := range queue {
		queued[v.(string)] = true
	}
	for qi < len(queue) {
		v := queue[qi].(string)
		qi++
		if done[v] {
			return nil, &runctx.GraphLoopError{Version: v}
		}
		done[v] = true
		if _, isPre := preResolved[v]; !isPre {
			order = append(order, v)
		}
		for _, succ := range successors[v] {
			if !queued[succ] {
				queued[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	return &Result{
		Order:       order,
		Packages:    packages,
		Changelogs:  changelogs,
		PreResolved: preResolved,
		Ghosts:      dedupStrings(b.ghosts),
	}, nil
}

// Ghosts returns every ghost version observed across the run.
func (b *Builder) Ghosts() []string {
	return dedupStrings(b.ghosts)
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
