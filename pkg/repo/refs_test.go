package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

func initRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestInitAndOpen(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := Init(dir); err == nil {
		t.Fatal("second Init should fail")
	}

	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	r, err := Open(nested)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want, _ := filepath.Abs(dir)
	if r.RootDir != want {
		t.Fatalf("RootDir = %q, want %q", r.RootDir, want)
	}
	head, err := r.Head()
	if err != nil || head != "refs/heads/main" {
		t.Fatalf("Head = %q, %v", head, err)
	}

	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("Open outside a repository should fail")
	}
}

func TestUpdateRefCAS_ConcurrentSingleWinner(t *testing.T) {
	r := initRepo(t)

	base := object.Hash(fmt.Sprintf("%064x", 0xaa))
	if err := r.UpdateRef("refs/heads/main", base); err != nil {
		t.Fatalf("UpdateRef(base): %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	successCh := make(chan object.Hash, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			next := object.Hash(fmt.Sprintf("%064x", i+1))
			if err := r.UpdateRefCAS("refs/heads/main", next, base); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}()
	}
	wg.Wait()
	close(successCh)
	close(errCh)

	var winner object.Hash
	successes := 0
	for h := range successCh {
		successes++
		winner = h
	}
	if successes != 1 {
		t.Fatalf("successful CAS updates = %d, want 1", successes)
	}
	for err := range errCh {
		if !errors.Is(err, ErrRefCASMismatch) {
			t.Fatalf("unexpected error type: %v", err)
		}
	}

	got, err := r.ResolveRef("refs/heads/main")
	if err != nil {
		t.Fatalf("ResolveRef(main): %v", err)
	}
	if got != winner {
		t.Fatalf("refs/heads/main = %s, want winner %s", got, winner)
	}
}

func TestUpdateRefCAS_ExpectAbsent(t *testing.T) {
	r := initRepo(t)
	h := object.Hash(fmt.Sprintf("%064x", 1))
	if err := r.UpdateRefCAS("refs/holo/cache/k", h, ""); err != nil {
		t.Fatalf("create with empty expected: %v", err)
	}
	err := r.UpdateRefCAS("refs/holo/cache/k", h, "")
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("second create error = %v, want CAS mismatch", err)
	}

	lockPath := filepath.Join(r.HoloDir, "refs", "holo", "cache", "k.lock")
	if _, statErr := os.Stat(lockPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no lingering lockfile at %q, stat err=%v", lockPath, statErr)
	}
}

func TestUpdateRefRejectsBadInput(t *testing.T) {
	r := initRepo(t)
	good := object.Hash(fmt.Sprintf("%064x", 1))
	for _, name := range []string{"heads/main", "refs//x", "refs/../escape", "refs/x.lock"} {
		if err := r.UpdateRef(name, good); err == nil {
			t.Errorf("UpdateRef(%q) should fail", name)
		}
	}
	if err := r.UpdateRef("refs/heads/main", "nothex"); err == nil {
		t.Error("UpdateRef with malformed hash should fail")
	}
}

func TestResolveRef(t *testing.T) {
	r := initRepo(t)
	if _, err := r.ResolveRef("HEAD"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("unborn HEAD error = %v, want ErrRefNotFound", err)
	}

	blob, err := r.Store.WriteBlob(&object.Blob{Data: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateRef("refs/heads/main", blob); err != nil {
		t.Fatal(err)
	}
	tag := object.Hash(fmt.Sprintf("%064x", 7))
	if err := r.UpdateRef("refs/tags/v1", tag); err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]object.Hash{
		"HEAD":            blob,
		"main":            blob,
		"refs/heads/main": blob,
		"v1":              tag,
		string(blob):      blob,
	} {
		got, err := r.ResolveRef(name)
		if err != nil {
			t.Errorf("ResolveRef(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ResolveRef(%q) = %s, want %s", name, got, want)
		}
	}

	h, ok, err := r.ReadRef("HEAD")
	if err != nil || !ok || h != blob {
		t.Fatalf("ReadRef(HEAD) = %s, %v, %v", h, ok, err)
	}
	_, ok, err = r.ReadRef("refs/heads/missing")
	if err != nil || ok {
		t.Fatalf("ReadRef(missing) ok=%v err=%v", ok, err)
	}
}

func TestDeleteAndListRefs(t *testing.T) {
	r := initRepo(t)
	a := object.Hash(fmt.Sprintf("%064x", 1))
	b := object.Hash(fmt.Sprintf("%064x", 2))
	if err := r.UpdateRef("refs/holo/cache/k1", a); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateRef("refs/holo/cache/k2", b); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateRef("refs/heads/main", a); err != nil {
		t.Fatal(err)
	}

	cache, err := r.ListRefs("holo/cache")
	if err != nil {
		t.Fatal(err)
	}
	if len(cache) != 2 || cache["refs/holo/cache/k1"] != a || cache["refs/holo/cache/k2"] != b {
		t.Fatalf("ListRefs(holo/cache) = %v", cache)
	}

	if err := r.DeleteRef("refs/holo/cache/k1"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteRef("refs/holo/cache/never"); err != nil {
		t.Fatalf("deleting a missing ref: %v", err)
	}
	if err := r.DeleteRef("refs/nowhere/at/all"); err != nil {
		t.Fatalf("deleting under a missing dir: %v", err)
	}
	all, err := r.ListRefs("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("ListRefs() = %v, want 2 refs", all)
	}

	missing, err := r.ListRefs("sources")
	if err != nil || len(missing) != 0 {
		t.Fatalf("ListRefs(sources) = %v, %v", missing, err)
	}
}

func TestReflog(t *testing.T) {
	r := initRepo(t)
	for i := 0; i < 5; i++ {
		if err := r.UpdateRef("refs/heads/main", object.Hash(fmt.Sprintf("%064x", i+1))); err != nil {
			t.Fatalf("UpdateRef(%d): %v", i, err)
		}
	}
	if err := r.DeleteRef("refs/heads/main"); err != nil {
		t.Fatal(err)
	}

	entries, err := r.ReadReflog("refs/heads/main", 0)
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("entries = %d, want 6", len(entries))
	}
	if entries[0].Reason != "delete" || entries[0].NewHash != object.Hash(zeroHash) {
		t.Fatalf("newest entry = %+v, want delete", entries[0])
	}
	if entries[1].NewHash != object.Hash(fmt.Sprintf("%064x", 5)) {
		t.Fatalf("entries[1].NewHash = %s", entries[1].NewHash)
	}
	if entries[5].OldHash != object.Hash(zeroHash) {
		t.Fatalf("oldest entry OldHash = %s, want zero hash", entries[5].OldHash)
	}

	limited, err := r.ReadReflog("refs/heads/main", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("ReadReflog(limit 2) = %d entries, %v", len(limited), err)
	}
}
