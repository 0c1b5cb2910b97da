// Package store implements the local content-addressed cache described in
// spec §3 "Content store": a flat by-hash zone, a namespaced mirror built
// from hard links, and hash-identity safety on both read and write paths.
//
// Grounded on paultag-go-archive/pool.go's Copy/Link pattern (hard-link a
// freshly written blob into a pool layout), adapted from a blobstore.Store
// abstraction to a plain SHA-1-keyed directory tree since this tool has no
// archive-signing concerns of its own — it only ever consumes blobs the
// snapshot archive already hashed.
package store

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is a local content-addressed blob cache rooted at Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating the by-hash zone if
// necessary.
func New(root string) (*Store, error) {
	s := &Store{Root: root}
	if err := os.MkdirAll(s.byHashDir(), 0755); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) byHashDir() string {
	return filepath.Join(s.Root, "by-hash")
}

// Path returns the by-hash path for a given lowercase hex SHA-1.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.byHashDir(), hash)
}

// Has reports whether hash is already cached with the expected size.
// Per §4.A's "Hash-identity safety", a by-hash path is trusted only when
// st_size matches; a mismatch is treated as absent (and the stale file
// removed) so the caller re-fetches.
func (s *Store) Has(hash string, size int64) bool {
	path := s.Path(hash)
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if st.Size() != size {
		os.Remove(path)
		return false
	}
	return true
}

// Put streams r into the store under the announced hash, recomputing the
// SHA-1 as it writes and rejecting the blob if it doesn't match. The
// temporary file is written alongside the by-hash zone and renamed into
// place only once the digest checks out, so a crash mid-stream never
// leaves a corrupt by-hash entry (§5 "crash-safe by rename-after-verify").
func (s *Store) Put(hash string, size int64, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(s.byHashDir(), "fetch-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()
	defer tmp.Close()

	h := sha1.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("store: size mismatch for %s: announced %d, got %d", hash, size, n)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != hash {
		return fmt.Errorf("store: hash mismatch: announced %s, computed %s", hash, got)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.Path(hash))
}

// Mirror hard-links the by-hash blob for hash into the namespaced mirror
// at archive/path/name. A hardlink collision is tolerated iff source and
// destination are the same inode (§5 "Shared resources"); otherwise it is
// fatal, since two distinct blobs cannot share one mirror path.
func (s *Store) Mirror(archive, path, name, hash string) error {
	target := filepath.Join(s.Root, "archive", archive, path, name)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	source := s.Path(hash)
	err := os.Link(source, target)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return err
	}
	sst, serr := os.Stat(source)
	tst, terr := os.Stat(target)
	if serr == nil && terr == nil && os.SameFile(sst, tst) {
		return nil
	}
	return fmt.Errorf("store: mirror collision at %s: existing file is not a link to %s", target, hash)
}
