package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

type fixture struct {
	store  *object.Store
	blob   object.Hash
	tree   object.Hash
	commit object.Hash
}

func writeFixture(t *testing.T, store *object.Store) fixture {
	t.Helper()
	blobHash, err := store.WriteBlob(&object.Blob{Data: []byte("hello\n")})
	if err != nil {
		t.Fatal(err)
	}
	treeHash, err := store.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{{Name: "README.md", Mode: object.TreeModeFile, Hash: blobHash}}})
	if err != nil {
		t.Fatal(err)
	}
	commitHash, err := store.WriteCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Author:    "Alice <alice@example.com>",
		Timestamp: 1700000000,
		Message:   "init",
	})
	if err != nil {
		t.Fatal(err)
	}
	return fixture{store: store, blob: blobHash, tree: treeHash, commit: commitHash}
}

func readWire(t *testing.T, store *object.Store, h object.Hash) wireObject {
	t.Helper()
	objType, data, err := store.Read(h)
	if err != nil {
		t.Fatal(err)
	}
	return wireObject{Hash: string(h), Type: string(objType), Data: data}
}

func TestFetchIntoStoreBatchThenGetFallback(t *testing.T) {
	fx := writeFixture(t, object.NewStore(t.TempDir()))
	commitObj := readWire(t, fx.store, fx.commit)
	treeObj := readWire(t, fx.store, fx.tree)
	blobObj := readWire(t, fx.store, fx.blob)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/objects/batch":
			_ = json.NewEncoder(w).Encode(batchResponse{
				Objects:   []wireObject{commitObj, treeObj},
				Truncated: true,
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/objects/"):
			if object.Hash(path.Base(r.URL.Path)) != fx.blob {
				http.Error(w, "object not found", http.StatusNotFound)
				return
			}
			w.Header().Set(headerObjectType, blobObj.Type)
			_, _ = w.Write(blobObj.Data)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	localStore := object.NewStore(t.TempDir())

	written, err := FetchIntoStore(context.Background(), client, localStore, []object.Hash{fx.commit}, nil)
	if err != nil {
		t.Fatalf("FetchIntoStore: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3", written)
	}
	for _, h := range []object.Hash{fx.commit, fx.tree, fx.blob} {
		if !localStore.Has(h) {
			t.Fatalf("missing expected object %s", h)
		}
	}
}

func TestFetchIntoStoreUsesMultipleBatchRounds(t *testing.T) {
	fx := writeFixture(t, object.NewStore(t.TempDir()))
	commitObj := readWire(t, fx.store, fx.commit)
	treeObj := readWire(t, fx.store, fx.tree)
	blobObj := readWire(t, fx.store, fx.blob)

	batchCalls := 0
	getCalls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/objects/batch":
			batchCalls++
			body, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			var req batchRequest
			_ = json.Unmarshal(body, &req)
			haveSet := make(map[string]struct{}, len(req.Haves))
			for _, h := range req.Haves {
				haveSet[h] = struct{}{}
			}

			var resp batchResponse
			_, hasCommit := haveSet[string(fx.commit)]
			_, hasTree := haveSet[string(fx.tree)]
			_, hasBlob := haveSet[string(fx.blob)]
			switch {
			case !hasCommit:
				resp.Objects = append(resp.Objects, commitObj)
				resp.Truncated = true
			case !hasTree:
				resp.Objects = append(resp.Objects, treeObj)
				resp.Truncated = true
			case !hasBlob:
				resp.Objects = append(resp.Objects, blobObj)
			}
			_ = json.NewEncoder(w).Encode(resp)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/objects/"):
			getCalls++
			http.Error(w, "unexpected get", http.StatusBadRequest)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	localStore := object.NewStore(t.TempDir())

	written, err := FetchIntoStore(context.Background(), client, localStore, []object.Hash{fx.commit}, nil)
	if err != nil {
		t.Fatalf("FetchIntoStore: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3", written)
	}
	if batchCalls < 3 {
		t.Fatalf("expected at least 3 batch rounds, got %d", batchCalls)
	}
	if getCalls != 0 {
		t.Fatalf("expected 0 GET fallback calls, got %d", getCalls)
	}
}

func TestFetchIntoStoreRejectsHashMismatch(t *testing.T) {
	blobData := object.MarshalBlob(&object.Blob{Data: []byte("data")})
	blobHash := object.HashObject(object.TypeBlob, blobData)
	badHash := object.Hash(strings.Repeat("a", 64))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/objects/batch" {
			_ = json.NewEncoder(w).Encode(batchResponse{
				Objects: []wireObject{{Hash: string(badHash), Type: string(object.TypeBlob), Data: blobData}},
			})
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	client, err := NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	_, err = FetchIntoStore(context.Background(), client, object.NewStore(t.TempDir()), []object.Hash{blobHash}, nil)
	if err == nil {
		t.Fatalf("expected hash mismatch error")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch error, got %v", err)
	}
}

func TestCollectObjectsForPushStopsAtReachableRoots(t *testing.T) {
	store := object.NewStore(t.TempDir())
	a := writeFixture(t, store)

	blobB, err := store.WriteBlob(&object.Blob{Data: []byte("v2\n")})
	if err != nil {
		t.Fatal(err)
	}
	treeB, err := store.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{
		{Name: "README.md", Mode: object.TreeModeFile, Hash: a.blob},
		{Name: "main.txt", Mode: object.TreeModeFile, Hash: blobB},
	}})
	if err != nil {
		t.Fatal(err)
	}
	commitB, err := store.WriteCommit(&object.CommitObj{
		TreeHash:  treeB,
		Parents:   []object.Hash{a.commit},
		Author:    "Alice",
		Timestamp: 1700000001,
		Message:   "B",
	})
	if err != nil {
		t.Fatal(err)
	}

	objs, err := CollectObjectsForPush(store, []object.Hash{commitB}, []object.Hash{a.commit})
	if err != nil {
		t.Fatalf("CollectObjectsForPush: %v", err)
	}
	got := make(map[object.Hash]struct{}, len(objs))
	for _, o := range objs {
		got[o.Hash] = struct{}{}
	}
	for _, h := range []object.Hash{commitB, treeB, blobB} {
		if _, ok := got[h]; !ok {
			t.Fatalf("missing expected object %s", h)
		}
	}
	for _, h := range []object.Hash{a.commit, a.tree, a.blob} {
		if _, ok := got[h]; ok {
			t.Fatalf("unexpected object from stop root history: %s", h)
		}
	}
}

func newServedRepo(t *testing.T) (*repo.Repo, *Client) {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewHandler(r.Store, r))
	t.Cleanup(ts.Close)
	client, err := NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	return r, client
}

func TestHandlerPushThenFetch(t *testing.T) {
	ctx := context.Background()
	server, client := newServedRepo(t)

	local := writeFixture(t, object.NewStore(t.TempDir()))
	n, err := Push(ctx, client, local.store, local.commit, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != 3 {
		t.Fatalf("pushed %d objects, want 3", n)
	}
	for _, h := range []object.Hash{local.commit, local.tree, local.blob} {
		if !server.Store.Has(h) {
			t.Fatalf("server missing %s", h)
		}
	}

	absent := object.Hash("")
	if _, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "refs/heads/main", Old: &absent, New: &local.commit}}); err != nil {
		t.Fatalf("UpdateRefs: %v", err)
	}
	refs, err := client.ListRefs(ctx, "refs/heads/")
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if refs["refs/heads/main"] != local.commit {
		t.Fatalf("refs = %v", refs)
	}

	other := object.NewStore(t.TempDir())
	written, err := FetchIntoStore(ctx, client, other, []object.Hash{refs["refs/heads/main"]}, nil)
	if err != nil {
		t.Fatalf("FetchIntoStore: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3", written)
	}
	c, err := other.ReadCommit(local.commit)
	if err != nil {
		t.Fatal(err)
	}
	if c.TreeHash != local.tree {
		t.Fatalf("fetched commit tree = %s, want %s", c.TreeHash, local.tree)
	}
}

func TestHandlerRefUpdateConflict(t *testing.T) {
	ctx := context.Background()
	server, client := newServedRepo(t)
	fx := writeFixture(t, server.Store)
	if err := server.UpdateRef("refs/heads/main", fx.commit); err != nil {
		t.Fatal(err)
	}

	absent := object.Hash("")
	_, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "refs/heads/main", Old: &absent, New: &fx.tree}})
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != CodeConflict {
		t.Fatalf("err = %v, want ref conflict", err)
	}

	// A batch with one bad update applies nothing.
	missing := object.Hash(strings.Repeat("b", 64))
	_, err = client.UpdateRefs(ctx, []RefUpdate{
		{Name: "refs/heads/other", New: &fx.tree},
		{Name: "refs/heads/broken", New: &missing},
	})
	if err == nil {
		t.Fatal("expected missing target to be rejected")
	}
	if _, ok, _ := server.ReadRef("refs/heads/other"); ok {
		t.Fatal("partial ref batch was applied")
	}

	// Delete with a matching old value.
	if _, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "refs/heads/main", Old: &fx.commit}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := server.ReadRef("refs/heads/main"); ok {
		t.Fatal("ref still present after delete")
	}
}

func TestHandlerGetObjectNotFound(t *testing.T) {
	_, client := newServedRepo(t)
	_, err := client.GetObject(context.Background(), object.Hash(strings.Repeat("c", 64)))
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestHandlerBatchTruncates(t *testing.T) {
	server, client := newServedRepo(t)
	fx := writeFixture(t, server.Store)

	objs, truncated, err := client.BatchObjects(context.Background(), []object.Hash{fx.commit}, nil, 2)
	if err != nil {
		t.Fatalf("BatchObjects: %v", err)
	}
	if len(objs) != 2 || !truncated {
		t.Fatalf("got %d objects truncated=%v, want 2 truncated", len(objs), truncated)
	}

	objs, truncated, err = client.BatchObjects(context.Background(), []object.Hash{fx.commit}, []object.Hash{fx.tree}, 0)
	if err != nil {
		t.Fatalf("BatchObjects: %v", err)
	}
	if len(objs) != 1 || truncated || objs[0].Hash != fx.commit {
		t.Fatalf("haves not honored: %+v truncated=%v", objs, truncated)
	}
}
