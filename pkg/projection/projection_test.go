package projection

import (
	"context"
	"errors"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JarvusInnovations/hologit-sub000/pkg/cache"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/lens"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/source"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

type fixture struct {
	repo  *repo.Repo
	sess  *tree.Session
	runs  atomic.Int32
	proj  *Projector
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sess, err := tree.NewSession(r.Store, 0)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{repo: r, sess: sess, clock: time.Unix(1700000000, 0)}

	// The stamp lens records which files it saw.
	runner := lens.RunnerFunc(func(ctx context.Context, inv lens.Invocation) (object.Hash, error) {
		f.runs.Add(1)
		var seen string
		err := sess.Bind(inv.Input).Walk(ctx, func(p string, e tree.Entry) error {
			if !e.IsTree() {
				seen += p + "\n"
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		out := f.build(t, map[string]string{"stamp.txt": seen})
		return out.Write(ctx)
	})
	pipeline := lens.NewPipeline(cache.New(r, nil), sess, runner)
	f.proj = New(r, sess, source.NewResolver(r), pipeline, nil)
	return f
}

func (f *fixture) build(t *testing.T, files map[string]string) *tree.Node {
	t.Helper()
	ctx := context.Background()
	root := f.sess.NewTree()
	for p, content := range files {
		h, err := f.repo.Store.WriteBlob(&object.Blob{Data: []byte(content)})
		if err != nil {
			t.Fatal(err)
		}
		dir, name := path.Split(p)
		chain, err := root.GetOrCreateChain(ctx, dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := chain[len(chain)-1].SetBlob(ctx, name, tree.Blob{Hash: h, Mode: object.TreeModeFile}); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// commit writes files as a commit on ref and returns it.
func (f *fixture) commit(t *testing.T, ref string, files map[string]string) object.Hash {
	t.Helper()
	h, err := f.build(t, files).Write(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var parents []object.Hash
	if prev, ok, _ := f.repo.ReadRef(ref); ok {
		parents = []object.Hash{prev}
	}
	c, err := f.repo.WriteCommit(repo.CommitOptions{Tree: h, Parents: parents, Author: "Test <test@example.com>", Message: "update", Time: f.clock})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.repo.UpdateRef(ref, c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) flatten(t *testing.T, h object.Hash) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := f.sess.Bind(h).Walk(context.Background(), func(p string, e tree.Entry) error {
		if e.IsTree() {
			return nil
		}
		b, err := f.repo.Store.ReadBlob(e.Blob.Hash)
		if err != nil {
			return err
		}
		out[p] = string(b.Data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// layeredWorkspace commits three local sources and a workspace whose site
// branch stacks them and runs the stamp lens over *.txt.
func (f *fixture) layeredWorkspace(t *testing.T) object.Hash {
	t.Helper()
	f.commit(t, "refs/heads/one", map[string]string{"file.txt": "first", "one.txt": "1"})
	f.commit(t, "refs/heads/two", map[string]string{"file.txt": "second", "docs/two.md": "2"})
	f.commit(t, "refs/heads/three", map[string]string{"file.txt": "third"})
	return f.commit(t, "refs/heads/main", map[string]string{
		".holo/config.toml":               "[holospace]\nname = \"layers\"\n",
		".holo/sources/one.toml":          "[holosource]\nref = \"one\"\n",
		".holo/sources/two.toml":          "[holosource]\nref = \"two\"\n",
		".holo/sources/three.toml":        "[holosource]\nref = \"refs/heads/three\"\n",
		".holo/branches/site/_one.toml":   "[holomapping]\n",
		".holo/branches/site/_two.toml":   "[holomapping]\nafter = \"one\"\n",
		".holo/branches/site/_three.toml": "[holomapping]\nafter = \"two\"\n",
		".holo/lenses/stamp.toml":         "[hololens]\npackage = \"holo/stamp\"\ncommand = \"stamp\"\n\n[hololens.input]\nfiles = \"*.txt\"\n",
	})
}

func TestThreeLayerProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.layeredWorkspace(t)

	h, err := f.proj.ProjectBranch(ctx, "site", Options{Workspace: ws})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"file.txt":    "third",
		"one.txt":     "1",
		"docs/two.md": "2",
		"stamp.txt":   "file.txt\none.txt\n",
	}
	if diff := cmp.Diff(want, f.flatten(t, h)); diff != "" {
		t.Fatalf("projection (-want +got):\n%s", diff)
	}

	again, err := f.proj.ProjectBranch(ctx, "site", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if again != h {
		t.Fatalf("reprojection from HEAD = %s, want %s", again, h)
	}
	if n := f.runs.Load(); n != 1 {
		t.Fatalf("lens ran %d times, want 1", n)
	}

	off := false
	bare, err := f.proj.ProjectBranch(ctx, "site", Options{Workspace: ws, Lens: &off})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.flatten(t, bare)["stamp.txt"]; ok {
		t.Fatal("lens output present with lenses disabled")
	}
}

func TestCommitToParentsOnPriorRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ws := f.layeredWorkspace(t)
	opts := Options{Workspace: ws, CommitTo: "build", Message: "Build site", Time: f.clock}

	first, err := f.proj.ProjectBranch(ctx, "site", opts)
	if err != nil {
		t.Fatal(err)
	}
	c1, err := f.repo.Store.ReadCommit(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(c1.Parents) != 0 || c1.Message != "Build site" || c1.Author != DefaultAuthor {
		t.Fatalf("first commit = %+v", c1)
	}

	f.commit(t, "refs/heads/three", map[string]string{"file.txt": "fourth"})
	second, err := f.proj.ProjectBranch(ctx, "site", opts)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := f.repo.Store.ReadCommit(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(c2.Parents) != 1 || c2.Parents[0] != first {
		t.Fatalf("second commit parents = %v, want [%s]", c2.Parents, first)
	}
	if got := f.flatten(t, c2.TreeHash)["file.txt"]; got != "fourth" {
		t.Fatalf("file.txt = %q", got)
	}
	if head, _, _ := f.repo.ReadRef("refs/heads/build"); head != second {
		t.Fatalf("refs/heads/build = %s, want %s", head, second)
	}

	third, err := f.proj.ProjectBranch(ctx, "site", opts)
	if err != nil {
		t.Fatal(err)
	}
	if third != second {
		t.Fatalf("unchanged projection made a new commit %s", third)
	}
}

func TestBranchReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.commit(t, "refs/heads/one", map[string]string{"file.txt": "first"})
	ws := f.commit(t, "refs/heads/main", map[string]string{
		".holo/sources/one.toml":          "[holosource]\nref = \"one\"\n",
		".holo/branches/docs/_one.toml":   "[holomapping]\n",
		".holo/branches/site/manual.toml": "[holomapping]\nholosource = \"=>docs\"\n",
		".holo/branches/a/_b.toml":        "[holomapping]\nholosource = \"=>b\"\n",
		".holo/branches/b/_a.toml":        "[holomapping]\nholosource = \"=>a\"\n",
	})

	h, err := f.proj.ProjectBranch(ctx, "site", Options{Workspace: ws})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"manual/file.txt": "first"}, f.flatten(t, h)); diff != "" {
		t.Fatalf("projection (-want +got):\n%s", diff)
	}

	_, err = f.proj.ProjectBranch(ctx, "a", Options{Workspace: ws})
	var ce *errs.CycleError
	if !errors.As(err, &ce) || len(ce.Units) != 3 {
		t.Fatalf("err = %v, want a three-frame cycle", err)
	}
}

func TestProjectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.proj.ProjectBranch(ctx, "site", Options{}); !errors.Is(err, errs.ErrResolution) {
		t.Fatalf("unborn HEAD err = %v", err)
	}

	ws := f.commit(t, "refs/heads/main", map[string]string{
		".holo/branches/site/_gone.toml": "[holomapping]\n",
		".holo/sources/gone.toml":        "[holosource]\nref = \"gone\"\n",
	})
	if _, err := f.proj.ProjectBranch(ctx, "nope", Options{Workspace: ws}); !errors.Is(err, errs.ErrResolution) {
		t.Fatalf("unknown branch err = %v", err)
	}
	_, err := f.proj.ProjectBranch(ctx, "site", Options{Workspace: ws, CommitTo: "out"})
	if !errors.Is(err, errs.ErrResolution) {
		t.Fatalf("missing source ref err = %v", err)
	}
	if _, ok, _ := f.repo.ReadRef("refs/heads/out"); ok {
		t.Fatal("failed projection moved its destination ref")
	}
}

func TestStrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.build(t, map[string]string{
		".holo/config.toml":          "[holospace]\n",
		".holo/branches/site/a.toml": "[holomapping]\n",
		".holo/lenses/x.toml":        "[hololens]\n",
		".holo/notes.txt":            "kept",
		"index.html":                 "<html>",
	})
	if err := Strip(ctx, root); err != nil {
		t.Fatal(err)
	}
	h, err := root.Write(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{".holo/notes.txt": "kept", "index.html": "<html>"}
	if diff := cmp.Diff(want, f.flatten(t, h)); diff != "" {
		t.Fatalf("with residue (-want +got):\n%s", diff)
	}

	root = f.build(t, map[string]string{
		".holo/config.toml":    "[holospace]\n",
		".holo/sources/a.toml": "[holosource]\n",
		"index.html":           "<html>",
	})
	if err := Strip(ctx, root); err != nil {
		t.Fatal(err)
	}
	if dir, _ := root.GetChild(ctx, ".holo"); dir != nil {
		t.Fatal(".holo kept without residue")
	}
}
