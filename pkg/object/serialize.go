package object

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MarshalBlob returns a copy of the blob's bytes.
func MarshalBlob(b *Blob) []byte { return bytes.Clone(b.Data) }

// UnmarshalBlob wraps a copy of data.
func UnmarshalBlob(data []byte) (*Blob, error) {
	return &Blob{Data: bytes.Clone(data)}, nil
}

// MarshalTree encodes a tree listing, one entry per line and sorted by
// name so equal listings hash equally:
//
//	<mode> <hash>\t<name>
//
// An empty mode is written as TreeModeFile.
func MarshalTree(tr *TreeObj) []byte {
	entries := slices.Clone(tr.Entries)
	slices.SortFunc(entries, func(a, b TreeEntry) int { return strings.Compare(a.Name, b.Name) })

	var buf bytes.Buffer
	for _, e := range entries {
		mode := e.Mode
		if mode == "" {
			mode = TreeModeFile
		}
		buf.WriteString(mode)
		buf.WriteByte(' ')
		buf.WriteString(string(e.Hash))
		buf.WriteByte('\t')
		buf.WriteString(e.Name)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// UnmarshalTree decodes a listing written by MarshalTree.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	for len(data) > 0 {
		line, rest, _ := bytes.Cut(data, []byte{'\n'})
		data = rest
		meta, name, ok := bytes.Cut(line, []byte{'\t'})
		if !ok || len(name) == 0 {
			return nil, fmt.Errorf("tree entry %q has no name", line)
		}
		mode, hash, ok := bytes.Cut(meta, []byte{' '})
		if !ok {
			return nil, fmt.Errorf("tree entry %q has no hash", line)
		}
		if !validMode(string(mode)) {
			return nil, fmt.Errorf("tree entry %q: unknown mode %q", name, mode)
		}
		tr.Entries = append(tr.Entries, TreeEntry{Name: string(name), Mode: string(mode), Hash: Hash(hash)})
	}
	return tr, nil
}

func validMode(mode string) bool {
	switch mode {
	case TreeModeDir, TreeModeFile, TreeModeExecutable, TreeModeSymlink:
		return true
	}
	return false
}

// MarshalCommit encodes a commit as header lines, a blank line and the
// message:
//
//	tree <hash>
//	parent <hash>        one per parent, first parent first
//	author <name>
//	time <unix seconds>
//	signature <sig>      omitted when unsigned
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	header := func(key, value string) {
		buf.WriteString(key)
		buf.WriteByte(' ')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	header("tree", string(c.TreeHash))
	for _, p := range c.Parents {
		header("parent", string(p))
	}
	header("author", c.Author)
	header("time", strconv.FormatInt(c.Timestamp, 10))
	if c.Signature != "" {
		header("signature", c.Signature)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit decodes a commit written by MarshalCommit.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	header, message, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		return nil, fmt.Errorf("commit has no message separator")
	}
	c := &CommitObj{Message: string(message)}
	for _, line := range strings.Split(string(header), "\n") {
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("commit header %q has no value", line)
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(value)
		case "parent":
			c.Parents = append(c.Parents, Hash(value))
		case "author":
			c.Author = value
		case "time":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("commit time %q: %w", value, err)
			}
			c.Timestamp = ts
		case "signature":
			c.Signature = value
		default:
			return nil, fmt.Errorf("unknown commit header %q", key)
		}
	}
	return c, nil
}

// CommitSigningPayload is the encoding of c without its signature; it is
// what a signer signs and a verifier checks.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	unsigned := *c
	unsigned.Signature = ""
	return MarshalCommit(&unsigned)
}
