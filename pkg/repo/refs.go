package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

var (
	ErrRefNotFound    = errors.New("ref not found")
	ErrRefCASMismatch = errors.New("ref compare-and-swap mismatch")

	// ErrRefUpdatedButReflogAppendFailed matches a *RefUpdateReflogError.
	ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
)

// RefUpdateReflogError reports a ref change that took effect but could not
// be logged. Callers may treat it as success.
type RefUpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *RefUpdateReflogError) Error() string {
	return fmt.Sprintf("ref %s moved %s -> %s but reflog append failed: %v",
		e.Ref, e.OldHash.Short(), e.NewHash.Short(), e.Err)
}

func (e *RefUpdateReflogError) Unwrap() error { return e.Err }

func (e *RefUpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

// checkRefName accepts HEAD and slash-separated names under refs/ with no
// empty, dot or .lock components.
func checkRefName(name string) error {
	if name == "HEAD" {
		return nil
	}
	rest, ok := strings.CutPrefix(name, "refs/")
	if !ok {
		return fmt.Errorf("ref %q is not under refs/", name)
	}
	for part := range strings.SplitSeq(rest, "/") {
		switch {
		case part == "", part == ".", part == "..", strings.HasSuffix(part, ".lock"):
			return fmt.Errorf("ref %q has an invalid component %q", name, part)
		}
	}
	return nil
}

func (r *Repo) refFile(name string) string {
	return filepath.Join(r.HoloDir, filepath.FromSlash(name))
}

// loadRef reads a loose ref file; a missing file is the empty hash.
func loadRef(path string) (object.Hash, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}

// ReadRef returns the hash a full ref name holds and whether it exists.
func (r *Repo) ReadRef(name string) (object.Hash, bool, error) {
	if name == "HEAD" {
		h, err := r.ResolveRef(name)
		switch {
		case errors.Is(err, ErrRefNotFound):
			return "", false, nil
		case err != nil:
			return "", false, err
		}
		return h, true, nil
	}
	if err := checkRefName(name); err != nil {
		return "", false, err
	}
	h, err := loadRef(r.refFile(name))
	if err != nil {
		return "", false, fmt.Errorf("read ref %s: %w", name, err)
	}
	return h, h != "", nil
}

// ResolveRef turns a name into a hash. HEAD is followed when symbolic;
// short names try refs/heads/ then refs/tags/; a stored object's hash
// resolves to itself.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	name = strings.TrimSpace(name)
	if name == "HEAD" {
		head, err := r.Head()
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(head, "refs/") {
			return object.Hash(head), nil
		}
		name = head
	}

	candidates := []string{name}
	if !strings.HasPrefix(name, "refs/") {
		candidates = []string{"refs/heads/" + name, "refs/tags/" + name}
	}
	for _, full := range candidates {
		if checkRefName(full) != nil {
			continue
		}
		h, ok, err := r.ReadRef(full)
		if err != nil {
			return "", err
		}
		if ok {
			return h, nil
		}
	}
	if h := object.Hash(name); object.ValidateHash(h) == nil && r.Store.Has(h) {
		return h, nil
	}
	return "", fmt.Errorf("resolve %q: %w", name, ErrRefNotFound)
}

const (
	lockPoll    = 5 * time.Millisecond
	lockTimeout = 2 * time.Second
)

// refLock is an exclusive <ref>.lock file. The new value is written into
// the lock and renamed over the ref on commit.
type refLock struct {
	path string
	f    *os.File
}

func lockRef(path string) (*refLock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return &refLock{path: path, f: f}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s is locked", lockPath)
		}
		time.Sleep(lockPoll)
	}
}

// commit writes h and moves it into place, releasing the lock.
func (l *refLock) commit(h object.Hash) error {
	_, err := l.f.WriteString(string(h) + "\n")
	if err == nil {
		err = l.f.Sync()
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err == nil {
		err = os.Rename(l.path+".lock", l.path)
	}
	if err != nil {
		os.Remove(l.path + ".lock")
	}
	return err
}

// release drops an uncommitted lock. It is a no-op after commit.
func (l *refLock) release() {
	if l.f == nil {
		return
	}
	l.f.Close()
	l.f = nil
	os.Remove(l.path + ".lock")
}

// UpdateRef points name at h unconditionally.
func (r *Repo) UpdateRef(name string, h object.Hash) error {
	return r.UpdateRefCAS(name, h)
}

// UpdateRefCAS points name at h under the ref's lock. With expectedOld the
// ref must currently hold that hash, where "" means absent; otherwise
// ErrRefCASMismatch is returned and nothing changes. A reflog failure after
// the move is reported as *RefUpdateReflogError.
func (r *Repo) UpdateRefCAS(name string, h object.Hash, expectedOld ...object.Hash) error {
	if len(expectedOld) > 1 {
		return fmt.Errorf("update ref %s: more than one expected hash", name)
	}
	if err := checkRefName(name); err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}

	path := r.refFile(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	lock, err := lockRef(path)
	if err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	defer lock.release()

	old, err := loadRef(path)
	if err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	if len(expectedOld) == 1 && old != expectedOld[0] {
		return fmt.Errorf("update ref %s: %w: holds %q, expected %q", name, ErrRefCASMismatch, old, expectedOld[0])
	}
	if err := lock.commit(h); err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	return r.logRefChange(name, old, h, "update")
}

// DeleteRef removes name. A ref that does not exist is already deleted.
func (r *Repo) DeleteRef(name string) error {
	if err := checkRefName(name); err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	path := r.refFile(name)
	lock, err := lockRef(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	defer lock.release()

	old, err := loadRef(path)
	if err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	if old == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return r.logRefChange(name, old, "", "delete")
}

func (r *Repo) logRefChange(name string, old, h object.Hash, reason string) error {
	if err := r.appendReflog(name, old, h, reason); err != nil {
		return &RefUpdateReflogError{Ref: name, OldHash: old, NewHash: h, Err: err}
	}
	return nil
}

// ListRefs returns every ref under refs/<prefix> keyed by full name. An
// empty prefix lists all refs.
func (r *Repo) ListRefs(prefix string) (map[string]object.Hash, error) {
	root := filepath.Join(r.HoloDir, "refs")
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		root = filepath.Join(root, filepath.FromSlash(p))
	}

	refs := map[string]object.Hash{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(r.HoloDir, path)
		if err != nil {
			return err
		}
		h, err := loadRef(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}
