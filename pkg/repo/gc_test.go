package repo

import (
	"testing"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

func TestGCKeepsReachableFromRefs(t *testing.T) {
	r := initRepo(t)

	keptBlob, err := r.Store.WriteBlob(&object.Blob{Data: []byte("kept\n")})
	if err != nil {
		t.Fatal(err)
	}
	keptTree, err := r.Store.WriteTree(&object.TreeObj{Entries: []object.TreeEntry{
		{Name: "a.txt", Mode: object.TreeModeFile, Hash: keptBlob},
	}})
	if err != nil {
		t.Fatal(err)
	}
	orphan, err := r.Store.WriteBlob(&object.Blob{Data: []byte("orphan\n")})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateRef("refs/holo/cache/k1", keptTree); err != nil {
		t.Fatal(err)
	}

	dry, err := r.GC(true)
	if err != nil {
		t.Fatalf("GC dry run: %v", err)
	}
	if dry.Pruned != 1 || dry.Kept != 2 {
		t.Fatalf("dry run summary = %+v, want 1 pruned 2 kept", dry)
	}
	if !r.Store.Has(orphan) {
		t.Fatal("dry run removed an object")
	}

	summary, err := r.GC(false)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if summary.Pruned != 1 {
		t.Fatalf("pruned = %d, want 1", summary.Pruned)
	}
	if r.Store.Has(orphan) {
		t.Fatal("orphan blob survived gc")
	}
	if !r.Store.Has(keptBlob) || !r.Store.Has(keptTree) {
		t.Fatal("reachable objects were pruned")
	}
}
