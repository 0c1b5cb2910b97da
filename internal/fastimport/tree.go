package fastimport

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// writeTree runs git's own index machinery over dir under a scratch
// index file, producing a tree object id without disturbing the host
// repository's real index — the "git add -A && git write-tree
// equivalent" §4.G names. Grounded on the teacher's preference
// (surgeon/vcs.go's VCS table) for invoking real VCS binaries as
// subprocesses rather than reimplementing object-store writes.
func writeTree(gitDir, scratchDir, dir string) (string, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return "", err
	}
	indexFile := filepath.Join(scratchDir, "scratch-index")
	os.Remove(indexFile)

	env := append(os.Environ(),
		"GIT_DIR="+gitDir,
		"GIT_WORK_TREE="+dir,
		"GIT_INDEX_FILE="+indexFile,
	)

	add := exec.Command("git", "add", "-A", ".")
	add.Dir = dir
	add.Env = env
	if out, err := add.CombinedOutput(); err != nil {
		return "", fmt.Errorf("fastimport: git add -A in %s: %s: %w", dir, strings.TrimSpace(string(out)), err)
	}

	write := exec.Command("git", "write-tree")
	write.Dir = dir
	write.Env = env
	out, err := write.Output()
	if err != nil {
		return "", fmt.Errorf("fastimport: git write-tree in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}
