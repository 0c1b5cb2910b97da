// git-remote-deb is a git remote helper (§6): invoked by git as
// `git-remote-deb <remote> <url>` for any remote whose URL begins with
// the "deb" transport, it reconstructs a package's upload history from
// snapshot.debian.org and streams it into the caller's repository via
// git fast-import.
//
// Grounded on reposurgeon's cmd-dispatch main (surgeon/reposurgeon.go's
// top-level Command/Dispatch loop), generalized from an interactive
// REPL to the fixed capabilities/option/list/import exchange a remote
// helper subprocess holds with its parent git.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gitlab.com/esr/gitdebimport/internal/changelog"
	"gitlab.com/esr/gitdebimport/internal/dscpkg"
	"gitlab.com/esr/gitdebimport/internal/fastimport"
	"gitlab.com/esr/gitdebimport/internal/history"
	"gitlab.com/esr/gitdebimport/internal/protocol"
	"gitlab.com/esr/gitdebimport/internal/runctx"
	"gitlab.com/esr/gitdebimport/internal/sigcheck"
	"gitlab.com/esr/gitdebimport/internal/snapshot"
	"gitlab.com/esr/gitdebimport/internal/unpack"
	debver "gitlab.com/esr/gitdebimport/internal/version"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: git-remote-deb <remote> <url>")
		os.Exit(1)
	}
	remote, rawURL := os.Args[1], os.Args[2]

	if err := run(remote, rawURL); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-deb: %v\n", err)
		os.Exit(1)
	}
}

func run(remote, rawURL string) error {
	req, err := protocol.ParseURL(rawURL)
	if err != nil {
		return err
	}

	ctx := runctx.New(req.Package, remote)
	for _, v := range req.Skip {
		ctx.Skip[v] = true
	}
	ctx.Trust = req.Trust
	for kid, addr := range req.Email {
		ctx.Email[kid] = addr
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	ctx.CacheDir = filepath.Join(home, ".cache", "debsnap")

	tempDir, err := os.MkdirTemp("", "gitdebimport-"+sanitizeTempName(req.Package))
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)
	ctx.TempDir = tempDir

	keyringDir := filepath.Join(home, ".local", "share", "public-keyrings")
	keyrings, err := loadKeyrings(keyringDir)
	if err != nil {
		return err
	}
	for _, kid := range ctx.Trust {
		kr, err := trustKey(kid)
		if err != nil {
			return fmt.Errorf("importing trusted key %s: %w", kid, err)
		}
		keyrings = append(keyrings, kr)
	}
	if len(keyrings) == 0 {
		return fmt.Errorf("no keyrings available under %s; run git-deb-keyring first", keyringDir)
	}

	client, err := snapshot.New(ctx.CacheDir, keyrings, ctx)
	if err != nil {
		return err
	}
	unpacker := unpack.New(tempDir)

	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		gitDir = ".git"
	}

	shim := protocol.NewShim(ctx, req.Package, remote, os.Stdin, os.Stdout)
	for {
		ok, err := shim.RunUntilImport()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := runImport(ctx, client, unpacker, shim, gitDir, tempDir); err != nil {
			return err
		}
		shim.FinishImport()
	}
}

// runImport builds the history graph for ctx.Package and streams it to
// stdout, the single `import` exchange's payload per §4.H.
func runImport(ctx *runctx.RunContext, client *snapshot.Client, unpacker *unpack.Unpacker, shim *protocol.Shim, gitDir, tempDir string) error {
	versions, err := client.ListVersions(ctx.Package)
	if err != nil {
		return err
	}

	fetcher := &archiveFetcher{ctx: ctx, client: client, unpacker: unpacker, pkg: ctx.Package}
	builder := &history.Builder{
		Ctx:     ctx,
		Fetcher: fetcher,
		Resolved: resolverFor(gitDir),
		Depth:   shim.Depth,
		SkipSet: ctx.Skip,
	}
	result, err := builder.Run(versions)
	if err != nil {
		return err
	}
	if ghosts := result.Ghosts; len(ghosts) > 0 {
		ctx.Warnf("ghost predecessor versions not in working set: %s", strings.Join(ghosts, ", "))
	}

	resolved := map[string]string{}
	for v, id := range result.PreResolved {
		resolved[v] = id
	}

	emitter := &fastimport.Emitter{
		Ctx:        ctx,
		Out:        os.Stdout,
		Remote:     ctx.Remote,
		Pkg:        ctx.Package,
		GitDir:     gitDir,
		ScratchDir: filepath.Join(tempDir, "scratch"),
	}
	return emitter.Emit(result, resolved)
}

// archiveFetcher implements history.Fetcher by chaining the Snapshot
// Client, the Unpacker and the Changelog Reader for one version.
type archiveFetcher struct {
	ctx      *runctx.RunContext
	client   *snapshot.Client
	unpacker *unpack.Unpacker
	pkg      string
}

func (f *archiveFetcher) Fetch(version string) (*dscpkg.SourcePackage, *changelog.Changelog, error) {
	sp, err := f.client.FetchSrcFiles(f.pkg, version)
	if err != nil {
		return nil, nil, err
	}
	if len(sp.Witnesses) == 0 {
		return nil, nil, fmt.Errorf("no dsc witness recorded for %s %s", f.pkg, version)
	}
	w := sp.Witnesses[0]
	dscPath := filepath.Join(f.client.Store.Root, "archive", w.Archive, w.Path, w.Name)

	if err := f.unpacker.Unpack(sp, dscPath); err != nil {
		return nil, nil, err
	}

	// §7: a changelog that can't be read or parsed at all is not fatal
	// to the version itself — warn and hand back a degenerate Changelog
	// naming only this version, so the builder's existing "no resolvable
	// predecessor" path emits it as a root outside the graph spine
	// instead of dropping it.
	clPath := filepath.Join(sp.PatchedTree, "debian", "changelog")
	data, readErr := os.ReadFile(clPath)
	if readErr != nil {
		f.ctx.Warnf("history: %s", (&runctx.ChangelogBrokenError{Version: version, Reason: readErr.Error()}).Error())
		return sp, changelog.Broken(version), nil
	}
	cl, parseErr := changelog.ParseBytes(data)
	if parseErr != nil {
		f.ctx.Warnf("history: %s", (&runctx.ChangelogBrokenError{Version: version, Reason: parseErr.Error()}).Error())
		return sp, changelog.Broken(version), nil
	}
	return sp, cl, nil
}

// resolverFor builds a history.Resolved that consults the host
// repository's own tag namespace, so a second run against an
// already-populated repo is idempotent (§8 law 5).
func resolverFor(gitDir string) history.Resolved {
	return func(version string) (string, bool) {
		quoted := debver.Parse(version).Quote()
		cmd := exec.Command("git", "--git-dir="+gitDir, "rev-parse", "--verify", "refs/tags/"+quoted+"^{commit}")
		out, err := cmd.Output()
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(out)), true
	}
}

func loadKeyrings(dir string) ([]*sigcheck.Keyring, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keyrings []*sigcheck.Keyring
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gpg") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".gpg")
		kr, err := sigcheck.LoadKeyringFile(name, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		keyrings = append(keyrings, kr)
	}
	return keyrings, nil
}

// trustKey exports kid from the caller's default gpg keyring into an
// ephemeral "local" Keyring, per §6's trust=<kid> query key.
func trustKey(kid string) (*sigcheck.Keyring, error) {
	out, err := exec.Command("gpg", "--export", kid).Output()
	if err != nil {
		return nil, fmt.Errorf("gpg --export %s: %w", kid, err)
	}
	return sigcheck.LoadKeyringBytes("local", out)
}

func sanitizeTempName(pkg string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(pkg)
}
