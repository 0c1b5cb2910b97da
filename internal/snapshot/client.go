// Package snapshot implements spec Component A, the Snapshot Client:
// querying the historical snapshot archive for a package's version list
// and per-version file manifests, fetching file bytes by content hash,
// and serving a local content-addressed store.
//
// Grounded on paultag-go-archive/downloader.go's streaming-fetch,
// temp-file-then-rename pattern, adapted from the blobstore-backed
// archive downloader to snapshot.debian.org's by-hash file API.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"time"

	"gitlab.com/esr/gitdebimport/internal/dscpkg"
	"gitlab.com/esr/gitdebimport/internal/runctx"
	"gitlab.com/esr/gitdebimport/internal/sigcheck"
	"gitlab.com/esr/gitdebimport/internal/store"
	debver "gitlab.com/esr/gitdebimport/internal/version"
)

const (
	baseURL            = "https://snapshot.debian.org"
	versionListMaxAge  = 600 * time.Second
	srcFilesMaxAge     = 0 // indefinite, per §3 Lifecycle
	canonicalKeyring   = "debian-keyring"
)

// Client is the Snapshot Client. It owns the HTTP transport, the JSON
// response cache and the content-addressed blob store.
type Client struct {
	HTTP     *http.Client
	Cache    *store.JSONCache
	Store    *store.Store
	Keyrings []*sigcheck.Keyring
	Ctx      *runctx.RunContext
}

// New builds a Client rooted at cacheDir (spec §6 "~/.cache/debsnap/").
func New(cacheDir string, keyrings []*sigcheck.Keyring, ctx *runctx.RunContext) (*Client, error) {
	jc, err := store.NewJSONCache(cacheDir)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Client{
		HTTP:     http.DefaultClient,
		Cache:    jc,
		Store:    st,
		Keyrings: keyrings,
		Ctx:      ctx,
	}, nil
}

// ListVersions returns the archive's publication-order version list,
// latest-first, as spec §4.A describes. It may not match strict Debian
// version order because of backports; SortedByVersion below is for
// display only.
func (c *Client) ListVersions(pkg string) ([]string, error) {
	cacheKey := pkg + "_versions"
	var cached versionListResponse
	if c.Cache.Get(cacheKey, versionListMaxAge, &cached) {
		return versionsOf(cached), nil
	}

	url := fmt.Sprintf("%s/mr/package/%s/", baseURL, pkg)
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, fmt.Errorf("snapshot: listing versions for %s: %w", pkg, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &runctx.MissingSourceError{Version: "*"}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("snapshot: listing versions for %s: HTTP %d", pkg, resp.StatusCode)
	}

	var parsed versionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("snapshot: decoding version list for %s: %w", pkg, err)
	}
	if err := c.Cache.Put(cacheKey, &parsed); err != nil {
		c.Ctx.Warnf("snapshot: caching version list for %s: %v", pkg, err)
	}
	return versionsOf(parsed), nil
}

func versionsOf(r versionListResponse) []string {
	out := make([]string, 0, len(r.Result))
	for _, entry := range r.Result {
		out = append(out, entry.Version)
	}
	return out
}

// SortedByVersion returns versions ordered by Debian version comparison,
// for display only (spec §3 "order is used for display only").
func SortedByVersion(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Slice(out, func(i, j int) bool {
		return debver.Less(debver.Parse(out[i]), debver.Parse(out[j]))
	})
	return out
}

// FetchSrcFiles requests the srcfiles manifest for pkg/version,
// downloads every referenced file into the content store, mirrors it
// under the namespaced archive/path/name layout, and verifies every dsc
// FileInfo's signature, returning a fully-populated SourcePackage.
func (c *Client) FetchSrcFiles(pkg, version string) (*dscpkg.SourcePackage, error) {
	cacheKey := fmt.Sprintf("%s_%s.srcfiles", pkg, version)
	var parsed srcFilesResponse
	if !c.Cache.Get(cacheKey, srcFilesMaxAge, &parsed) {
		url := fmt.Sprintf("%s/mr/package/%s/%s/srcfiles?fileinfo=1", baseURL, pkg, version)
		resp, err := c.HTTP.Get(url)
		if err != nil {
			return nil, fmt.Errorf("snapshot: fetching srcfiles for %s %s: %w", pkg, version, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &runctx.MissingSourceError{Version: version}
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("snapshot: fetching srcfiles for %s %s: HTTP %d", pkg, version, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("snapshot: decoding srcfiles for %s %s: %w", pkg, version, err)
		}
		if err := c.Cache.Put(cacheKey, &parsed); err != nil {
			c.Ctx.Warnf("snapshot: caching srcfiles for %s %s: %v", pkg, version, err)
		}
	}

	var allFiles []FileInfo
	for hash, infos := range parsed.Fileinfo {
		if err := validateHomogeneous(hash, infos); err != nil {
			return nil, err
		}
		rep := representative(infos)
		if err := c.fetchIfMissing(hash, rep.Size); err != nil {
			return nil, err
		}
		for i := range infos {
			infos[i].Hash = hash
			if !hasQuotedPrefix(pkg, infos[i].Name) {
				continue // empty-gzip placeholders shared under many names
			}
			if err := c.Store.Mirror(infos[i].ArchiveName, infos[i].Path, infos[i].Name, hash); err != nil {
				return nil, err
			}
		}
		allFiles = append(allFiles, infos...)
	}

	return c.buildSourcePackage(pkg, version, allFiles)
}

// validateHomogeneous enforces §4.A: when a hash maps to multiple
// FileInfos, they must all agree on size and filename extension.
func validateHomogeneous(hash string, infos []FileInfo) error {
	if len(infos) == 0 {
		return fmt.Errorf("snapshot: hash %s has no fileinfo entries", hash)
	}
	size := infos[0].Size
	ext := path.Ext(infos[0].Name)
	for _, fi := range infos[1:] {
		if fi.Size != size || path.Ext(fi.Name) != ext {
			return fmt.Errorf(
				"snapshot: heterogeneous fileinfo for hash %s: %s (%d bytes) vs %s (%d bytes)",
				hash, infos[0].Name, size, fi.Name, fi.Size)
		}
	}
	return nil
}

// representative picks the upload-precedence-minimum FileInfo, sorted by
// (first_seen, name, archive_name, path) as spec §3 defines.
func representative(infos []FileInfo) FileInfo {
	best := infos[0]
	for _, fi := range infos[1:] {
		if lessPrecedence(fi, best) {
			best = fi
		}
	}
	return best
}

func lessPrecedence(a, b FileInfo) bool {
	if a.FirstSeen != b.FirstSeen {
		return a.FirstSeen < b.FirstSeen
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.ArchiveName != b.ArchiveName {
		return a.ArchiveName < b.ArchiveName
	}
	return a.Path < b.Path
}

func hasQuotedPrefix(pkg, name string) bool {
	return len(name) >= len(pkg) && name[:len(pkg)] == pkg
}

func (c *Client) fetchIfMissing(hash string, size int64) error {
	if c.Store.Has(hash, size) {
		return nil
	}
	url := fmt.Sprintf("%s/file/%s", baseURL, hash)
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return fmt.Errorf("snapshot: fetching file %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("snapshot: fetching file %s: HTTP %d", hash, resp.StatusCode)
	}
	var r io.Reader = resp.Body
	return c.Store.Put(hash, size, r)
}

// buildSourcePackage separates the dsc FileInfos from the rest, verifies
// every dsc's signature, checks that multiple dscs agree on cleartext,
// and returns the classified SourcePackage.
func (c *Client) buildSourcePackage(pkg, version string, files []FileInfo) (*dscpkg.SourcePackage, error) {
	var dscFiles []FileInfo
	for _, fi := range files {
		if path.Ext(fi.Name) == ".dsc" {
			dscFiles = append(dscFiles, fi)
		}
	}
	if len(dscFiles) == 0 {
		return nil, fmt.Errorf("snapshot: no dsc file among srcfiles for %s %s", pkg, version)
	}

	var cleartext []byte
	var witnesses []dscpkg.SigWitness
	for _, fi := range dscFiles {
		raw, err := os.ReadFile(c.Store.Path(fi.Hash))
		if err != nil {
			return nil, fmt.Errorf("snapshot: reading dsc %s: %w", fi.Name, err)
		}
		result, err := sigcheck.Verify(raw, c.Keyrings, canonicalKeyring)
		if err != nil {
			identErr, isIdentity := err.(*sigcheck.IdentityError)
			if !isIdentity || result == nil {
				return nil, &runctx.SignatureError{Reason: err.Error()}
			}
			addr, ok := c.Ctx.Email[identErr.KeyID]
			if !ok {
				return nil, &runctx.IdentityMalformedError{UserID: identErr.KeyID}
			}
			sigcheck.ApplyEmailOverride(result, addr)
		}
		if cleartext == nil {
			cleartext = result.Cleartext
		} else if string(cleartext) != string(result.Cleartext) {
			return nil, &runctx.ArchiveInconsistencyError{
				Reason: fmt.Sprintf("version %s has multiple dscs with different cleartext", version),
			}
		}
		witnesses = append(witnesses, dscpkg.SigWitness{
			Archive:     fi.ArchiveName,
			Path:        fi.Path,
			Name:        fi.Name,
			SignerName:  result.SignerName,
			SignerEmail: result.SignerEmail,
			KeyID:       result.KeyID,
			KeyringName: result.KeyringName,
			Good:        result.Good,
			SigType:     result.SigType,
			Timestamp:   result.Timestamp.Unix(),
			RawDSC:      raw,
		})
	}

	sp, err := dscpkg.Parse(debver.Parse(version), cleartext)
	if err != nil {
		return nil, err
	}
	sp.Witnesses = witnesses
	return sp, nil
}
