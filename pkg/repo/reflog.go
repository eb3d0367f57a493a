package repo

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// zeroHash stands in for an absent side of a transition.
var zeroHash = strings.Repeat("0", 64)

// ReflogEntry is one line of .hologit/logs/<ref>.
type ReflogEntry struct {
	Ref       string
	OldHash   object.Hash
	NewHash   object.Hash
	Timestamp int64
	Reason    string
}

func orZero(h object.Hash) string {
	if h == "" {
		return zeroHash
	}
	return string(h)
}

// appendReflog adds "<old> <new> <unix>\t<reason>" to the ref's log.
func (r *Repo) appendReflog(ref string, old, next object.Hash, reason string) error {
	path := filepath.Join(r.HoloDir, "logs", filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s %s %d\t%s\n", orZero(old), orZero(next), time.Now().Unix(), cmp.Or(strings.TrimSpace(reason), "update"))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseReflogLine(ref, line string) (ReflogEntry, bool) {
	head, reason, ok := strings.Cut(line, "\t")
	if !ok {
		return ReflogEntry{}, false
	}
	fields := strings.Fields(head)
	if len(fields) != 3 {
		return ReflogEntry{}, false
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return ReflogEntry{}, false
	}
	return ReflogEntry{
		Ref:       ref,
		OldHash:   object.Hash(fields[0]),
		NewHash:   object.Hash(fields[1]),
		Timestamp: ts,
		Reason:    reason,
	}, true
}

// ReadReflog returns ref's history newest first, at most limit entries
// when limit > 0. Unparseable lines are skipped.
func (r *Repo) ReadReflog(ref string, limit int) ([]ReflogEntry, error) {
	f, err := os.Open(filepath.Join(r.HoloDir, "logs", filepath.FromSlash(ref)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reflog %s: %w", ref, err)
	}
	defer f.Close()

	var entries []ReflogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if e, ok := parseReflogLine(ref, sc.Text()); ok {
			entries = append(entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read reflog %s: %w", ref, err)
	}
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
