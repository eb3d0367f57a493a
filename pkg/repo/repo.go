// Package repo manages the .hologit repository directory: the object
// store, refs with compare-and-swap updates and reflogs, remotes, and
// commits.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// DirName is the repository directory inside a workspace.
const DirName = ".hologit"

// Repo is an opened repository.
type Repo struct {
	RootDir string        // workspace root
	HoloDir string        // .hologit/ directory
	Store   *object.Store // content-addressed object store
}

// Init creates a repository at path: .hologit/ with objects/, refs/heads/
// and a HEAD pointing at refs/heads/main. It fails if one already exists.
func Init(path string) (*Repo, error) {
	holoDir := filepath.Join(path, DirName)
	if _, err := os.Stat(holoDir); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", holoDir)
	}

	for _, d := range []string{
		filepath.Join(holoDir, "objects"),
		filepath.Join(holoDir, "refs", "heads"),
		filepath.Join(holoDir, "logs", "refs"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(holoDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	return newRepo(path, holoDir), nil
}

// Open searches upward from path for a .hologit/ directory.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open: abs path: %w", err)
	}
	for cur := abs; ; {
		holoDir := filepath.Join(cur, DirName)
		if info, err := os.Stat(holoDir); err == nil && info.IsDir() {
			return newRepo(cur, holoDir), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("open: not a hologit repository (or any parent up to /)")
		}
		cur = parent
	}
}

func newRepo(root, holoDir string) *Repo {
	return &Repo{RootDir: root, HoloDir: holoDir, Store: object.NewStore(holoDir)}
}

// Head reads HEAD: a ref path when symbolic, otherwise the raw hash.
func (r *Repo) Head() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.HoloDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	content := strings.TrimRight(string(data), "\n")
	return strings.TrimPrefix(content, "ref: "), nil
}
