package cache

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

func initRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// writeOutput stores a two-level tree and returns its hash.
func writeOutput(t *testing.T, s *object.Store, content string) object.Hash {
	t.Helper()
	blob, err := s.WriteBlob(&object.Blob{Data: []byte(content)})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := s.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{{Name: "out.txt", Mode: object.TreeModeFile, Hash: blob}}})
	if err != nil {
		t.Fatal(err)
	}
	root, err := s.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{{Name: "dist", Mode: object.TreeModeDir, Hash: sub}}})
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func fakeKey(t *testing.T, s *object.Store, seed string) object.Hash {
	t.Helper()
	h, err := s.WriteBlob(&object.Blob{Data: []byte("spec " + seed)})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestPutLookup(t *testing.T) {
	r := initRepo(t)
	c := New(r, nil)
	key := fakeKey(t, r.Store, "a")
	out := writeOutput(t, r.Store, "built")

	if _, ok, err := c.Lookup(key); err != nil || ok {
		t.Fatalf("Lookup before Put = %v, %v", ok, err)
	}
	if err := c.Put(context.Background(), key, out); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Lookup(key)
	if err != nil || !ok || got != out {
		t.Fatalf("Lookup = %s, %v, %v; want %s", got, ok, err, out)
	}
	keys, err := c.Keys()
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
}

func TestPutRejectsCancelledAndMalformed(t *testing.T) {
	r := initRepo(t)
	c := New(r, nil)
	key := fakeKey(t, r.Store, "a")
	out := writeOutput(t, r.Store, "built")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Put(ctx, key, out); !errors.Is(err, errs.ErrCancelled) {
		t.Fatalf("cancelled Put err = %v", err)
	}
	if err := c.Put(context.Background(), key, "not-a-hash"); !errors.Is(err, errs.ErrExecution) {
		t.Fatalf("malformed Put err = %v", err)
	}
	missing := object.HashBytes([]byte("nowhere"))
	if err := c.Put(context.Background(), key, missing); !errors.Is(err, errs.ErrExecution) {
		t.Fatalf("absent output Put err = %v", err)
	}
	if _, ok, _ := c.Lookup(key); ok {
		t.Fatal("rejected Put left a cache entry")
	}
}

type countingRemote struct {
	name   string
	pushes int
}

func (r *countingRemote) Name() string { return r.name }

func (r *countingRemote) Fetch(context.Context, object.Hash, *object.Store) (object.Hash, bool, error) {
	return "", false, nil
}

func (r *countingRemote) Push(context.Context, object.Hash, object.Hash, *object.Store) error {
	r.pushes++
	return nil
}

func TestPushSkipsWhenProvenanceMatches(t *testing.T) {
	r := initRepo(t)
	c := New(r, nil)
	key := fakeKey(t, r.Store, "a")
	out := writeOutput(t, r.Store, "built")
	rem := &countingRemote{name: "origin"}
	ctx := context.Background()

	for i, want := range []bool{true, false} {
		sent, err := c.Push(ctx, rem, key, out)
		if err != nil {
			t.Fatal(err)
		}
		if sent != want {
			t.Fatalf("push %d sent = %v, want %v", i, sent, want)
		}
	}
	if rem.pushes != 1 {
		t.Fatalf("remote pushes = %d, want 1", rem.pushes)
	}

	changed := writeOutput(t, r.Store, "rebuilt")
	if sent, err := c.Push(ctx, rem, key, changed); err != nil || !sent {
		t.Fatalf("push of changed output = %v, %v", sent, err)
	}
	if held, ok, _ := c.Provenance("origin", key); !ok || held != changed {
		t.Fatalf("provenance = %s, want %s", held, changed)
	}
}

func TestHoloRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	server := initRepo(t)
	ts := httptest.NewServer(remote.NewHandler(server.Store, server))
	defer ts.Close()

	producer := initRepo(t)
	pc := New(producer, nil)
	key := fakeKey(t, producer.Store, "lens")
	out := writeOutput(t, producer.Store, "built")

	rem, err := NewHoloRemote("shared", ts.URL, remote.ClientOptions{MaxAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.Push(ctx, rem, key, out); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if h, ok, _ := server.ReadRef(Ref(key)); !ok || h != out {
		t.Fatalf("server cache ref = %s (%v), want %s", h, ok, out)
	}

	consumer := initRepo(t)
	cc := New(consumer, nil)
	got, ok, err := cc.Pull(ctx, rem, key)
	if err != nil || !ok || got != out {
		t.Fatalf("Pull = %s, %v, %v; want %s", got, ok, err, out)
	}
	if local, ok, _ := cc.Lookup(key); !ok || local != out {
		t.Fatalf("local entry after pull = %s", local)
	}
	if held, ok, _ := cc.Provenance("shared", key); !ok || held != out {
		t.Fatalf("provenance after pull = %s", held)
	}
	if _, err := consumer.Store.ReadTree(out); err != nil {
		t.Fatalf("pulled tree missing: %v", err)
	}

	other := fakeKey(t, consumer.Store, "other")
	if _, ok, err := cc.Pull(ctx, rem, other); err != nil || ok {
		t.Fatalf("Pull of unknown key = %v, %v", ok, err)
	}
}

func newFakeS3(t *testing.T, bucket string) string {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "mock-access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "mock-secret-key")
	t.Setenv("AWS_REGION", "us-east-1")

	backend := s3mem.New()
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestS3RemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	endpoint := newFakeS3(t, "builds")

	producer := initRepo(t)
	key := fakeKey(t, producer.Store, "lens")
	out := writeOutput(t, producer.Store, "built")

	rem, err := NewS3Remote(ctx, "s3cache", "s3://builds/team/cache", S3Options{Endpoint: endpoint})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(producer, nil).Push(ctx, rem, key, out); err != nil {
		t.Fatalf("Push: %v", err)
	}

	consumer := initRepo(t)
	got, ok, err := New(consumer, nil).Pull(ctx, rem, key)
	if err != nil || !ok || got != out {
		t.Fatalf("Pull = %s, %v, %v; want %s", got, ok, err, out)
	}
	root, err := consumer.Store.ReadTree(out)
	if err != nil || len(root.Entries) != 1 || root.Entries[0].Name != "dist" {
		t.Fatalf("pulled root = %+v, %v", root, err)
	}

	if _, ok, err := rem.Fetch(ctx, fakeKey(t, consumer.Store, "missing"), consumer.Store); err != nil || ok {
		t.Fatalf("Fetch of unknown key = %v, %v", ok, err)
	}
}

type staticRemotes map[string]string

func (s staticRemotes) RemoteURL(name string) (string, error) {
	if u, ok := s[name]; ok {
		return u, nil
	}
	return "", errors.New("not configured")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	remotes := staticRemotes{"origin": "https://cache.example.com/holo"}

	r, err := Open(ctx, remotes, "origin")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*HoloRemote); !ok || r.Name() != "origin" {
		t.Fatalf("Open(origin) = %T %q", r, r.Name())
	}

	r, err = Open(ctx, remotes, "holo+https://cache.example.com/x")
	if err != nil {
		t.Fatal(err)
	}
	if r.Name() != "cache.example.com_x" {
		t.Fatalf("url remote name = %q", r.Name())
	}

	if _, err := Open(ctx, remotes, "unknown"); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("unknown remote err = %v", err)
	}
	if _, err := Open(ctx, remotes, "ftp://nope"); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("ftp err = %v", err)
	}
}
