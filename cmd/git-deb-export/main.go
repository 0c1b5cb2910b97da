// git-deb-export is the reverse-export collaborator named in §8: given
// a commit-ish on a package's main branch, it materializes that
// commit's tree on disk by walking it with `git ls-tree`/`git
// cat-file` subprocess calls (mirroring the teacher's preference for
// subprocess-based tree interactions over an embedded VCS library,
// §9 "Subprocess-based primitives"), then hands the materialized
// directory to `dpkg-source -b` to rebuild a .dsc plus components.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: git-deb-export <commit-ish> <output-dir>")
		os.Exit(1)
	}
	commitish, outputDir := os.Args[1], os.Args[2]

	if err := run(commitish, outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "git-deb-export: %v\n", err)
		os.Exit(1)
	}
}

func run(commitish, outputDir string) error {
	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		gitDir = ".git"
	}

	workDir, err := os.MkdirTemp("", "git-deb-export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	if err := materializeTree(gitDir, commitish, workDir); err != nil {
		return fmt.Errorf("materializing %s: %w", commitish, err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	cmd := exec.Command("dpkg-source", "-b", workDir)
	cmd.Dir = outputDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("dpkg-source -b: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// materializeTree lists commitish's tree recursively and writes every
// blob entry under destDir, preserving the tree's executable bit.
func materializeTree(gitDir, commitish, destDir string) error {
	lsTree := exec.Command("git", "--git-dir="+gitDir, "ls-tree", "-r", "-z", commitish)
	out, err := lsTree.Output()
	if err != nil {
		return err
	}
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		mode, hash, path, err := parseLsTreeEntry(rec)
		if err != nil {
			return err
		}
		if err := writeBlob(gitDir, hash, mode, filepath.Join(destDir, path)); err != nil {
			return err
		}
	}
	return nil
}

// parseLsTreeEntry splits one NUL-delimited `git ls-tree -z` record:
// "<mode> <type> <hash>\t<path>".
func parseLsTreeEntry(rec []byte) (mode, hash, path string, err error) {
	tab := bytes.IndexByte(rec, '\t')
	if tab < 0 {
		return "", "", "", fmt.Errorf("malformed ls-tree record %q", rec)
	}
	fields := strings.Fields(string(rec[:tab]))
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("malformed ls-tree record %q", rec)
	}
	return fields[0], fields[2], string(rec[tab+1:]), nil
}

func writeBlob(gitDir, hash, mode, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	catFile := exec.Command("git", "--git-dir="+gitDir, "cat-file", "blob", hash)
	content, err := catFile.Output()
	if err != nil {
		return err
	}
	perm := os.FileMode(0644)
	if mode == "100755" {
		perm = 0755
	}
	return os.WriteFile(dest, content, perm)
}
