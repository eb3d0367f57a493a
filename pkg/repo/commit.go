package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns the encoded
// signature stored in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitOptions describes a commit to write.
type CommitOptions struct {
	Tree    object.Hash
	Parents []object.Hash
	Author  string
	Message string
	// Time defaults to now.
	Time   time.Time
	Signer CommitSigner
}

// WriteCommit stores a commit object and returns its hash. No ref is
// moved.
func (r *Repo) WriteCommit(opts CommitOptions) (object.Hash, error) {
	if err := object.ValidateHash(opts.Tree); err != nil {
		return "", fmt.Errorf("commit: tree: %w", err)
	}
	ts := opts.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c := &object.CommitObj{
		TreeHash:  opts.Tree,
		Parents:   append([]object.Hash(nil), opts.Parents...),
		Author:    opts.Author,
		Timestamp: ts.Unix(),
		Message:   opts.Message,
	}
	if opts.Signer != nil {
		sig, err := opts.Signer(object.CommitSigningPayload(c))
		if err != nil {
			return "", fmt.Errorf("commit: sign commit: %w", err)
		}
		c.Signature = sig
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}
	return h, nil
}

// Log follows first parents from start, newest first, up to limit commits.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	for current := start; current != "" && len(commits) < limit; {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)
		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}
	return commits, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// parent links. A commit is its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant object.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	visited := map[object.Hash]bool{descendant: true}
	queue := []object.Hash{descendant}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		h := queue[0]
		queue = queue[1:]
		c, err := r.Store.ReadCommit(h)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Shallow history ends here.
				continue
			}
			return false, fmt.Errorf("is ancestor: read commit %s: %w", h, err)
		}
		for _, p := range c.Parents {
			if p == ancestor {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}
