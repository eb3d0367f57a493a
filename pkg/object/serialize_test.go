package object

import (
	"bytes"
	"strings"
	"testing"
)

func TestMarshalTreeSortsEntries(t *testing.T) {
	tr := &TreeObj{Entries: []TreeEntry{
		{Name: "zeta.txt", Mode: TreeModeFile, Hash: HashBytes([]byte("z"))},
		{Name: "alpha", Mode: TreeModeDir, Hash: EmptyTreeHash},
		{Name: "mid.sh", Mode: TreeModeExecutable, Hash: HashBytes([]byte("m"))},
	}}
	lines := strings.Split(strings.TrimRight(string(MarshalTree(tr)), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, want := range []string{"alpha", "mid.sh", "zeta.txt"} {
		if !strings.HasSuffix(lines[i], "\t"+want) {
			t.Errorf("line %d = %q, want name %q", i, lines[i], want)
		}
	}
}

func TestMarshalTreeIgnoresInputOrder(t *testing.T) {
	a := TreeEntry{Name: "a", Mode: TreeModeFile, Hash: HashBytes([]byte("a"))}
	b := TreeEntry{Name: "b", Mode: TreeModeFile, Hash: HashBytes([]byte("b"))}
	d1 := MarshalTree(&TreeObj{Entries: []TreeEntry{a, b}})
	d2 := MarshalTree(&TreeObj{Entries: []TreeEntry{b, a}})
	if !bytes.Equal(d1, d2) {
		t.Error("tree encoding depends on entry order")
	}
}

func TestUnmarshalTreeNameWithSpaces(t *testing.T) {
	h := HashBytes([]byte("x"))
	data := MarshalTree(&TreeObj{Entries: []TreeEntry{{Name: "read me.md", Mode: TreeModeFile, Hash: h}}})
	got, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "read me.md" || got.Entries[0].Hash != h {
		t.Fatalf("unexpected entries: %+v", got.Entries)
	}
	if got.Entries[0].IsDir() {
		t.Error("file entry reported as directory")
	}
}

func TestMarshalTreeDefaultsMode(t *testing.T) {
	data := MarshalTree(&TreeObj{Entries: []TreeEntry{{Name: "f", Hash: HashBytes([]byte("f"))}}})
	if !strings.HasPrefix(string(data), TreeModeFile+" ") {
		t.Errorf("missing default file mode: %q", data)
	}
}

func TestUnmarshalTreeRejectsMalformed(t *testing.T) {
	cases := []string{
		"100644 onlyhash\n",
		"100644 " + string(HashBytes(nil)) + "\n",
		"999999 " + string(HashBytes(nil)) + "\tname\n",
	}
	for _, c := range cases {
		if _, err := UnmarshalTree([]byte(c)); err == nil {
			t.Errorf("UnmarshalTree(%q) succeeded, want error", c)
		}
	}
}

func TestUnmarshalEmptyTree(t *testing.T) {
	got, err := UnmarshalTree(nil)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Errorf("got %d entries, want 0", len(got.Entries))
	}
}

func TestMarshalUnmarshalCommit(t *testing.T) {
	orig := &CommitObj{
		TreeHash:  HashBytes([]byte("tree")),
		Parents:   []Hash{HashBytes([]byte("p1")), HashBytes([]byte("p2"))},
		Author:    "Alice <alice@example.com>",
		Timestamp: 1700000000,
		Signature: "sshsig-v1:ssh-ed25519:pub:sig",
		Message:   "project main\n\nbody",
	}
	got, err := UnmarshalCommit(MarshalCommit(orig))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if got.TreeHash != orig.TreeHash || got.Author != orig.Author || got.Timestamp != orig.Timestamp {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Parents) != 2 || got.Parents[0] != orig.Parents[0] || got.Parents[1] != orig.Parents[1] {
		t.Errorf("parents: got %v, want %v", got.Parents, orig.Parents)
	}
	if got.Signature != orig.Signature {
		t.Errorf("signature: got %q", got.Signature)
	}
	if got.Message != orig.Message {
		t.Errorf("message: got %q, want %q", got.Message, orig.Message)
	}
}

func TestMarshalCommitOmitsEmptySignatureHeader(t *testing.T) {
	data := MarshalCommit(&CommitObj{TreeHash: EmptyTreeHash, Author: "a", Message: "m"})
	if strings.Contains(string(data), "signature ") || !strings.Contains(string(data), "time 0\n") {
		t.Errorf("unexpected headers in %q", data)
	}
}

func TestCommitSigningPayloadExcludesSignature(t *testing.T) {
	c := &CommitObj{TreeHash: EmptyTreeHash, Author: "a", Signature: "sig", Message: "m"}
	payload := CommitSigningPayload(c)
	if strings.Contains(string(payload), "sig\n") {
		t.Errorf("payload contains signature: %q", payload)
	}
	if c.Signature != "sig" {
		t.Error("CommitSigningPayload mutated its input")
	}
}

func TestValidateHash(t *testing.T) {
	if err := ValidateHash(HashBytes([]byte("ok"))); err != nil {
		t.Errorf("valid hash rejected: %v", err)
	}
	for _, bad := range []Hash{"", "abc", Hash(strings.Repeat("G", 64)), Hash(strings.ToUpper(string(HashBytes([]byte("x")))))} {
		if err := ValidateHash(bad); err == nil {
			t.Errorf("ValidateHash(%q) succeeded, want error", bad)
		}
	}
}
