package worktree

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// IgnoreChecker decides which workspace paths stay out of imported trees.
// It always ignores .hologit and .git and applies the root .gitignore.
type IgnoreChecker struct {
	rules []ignoreRule
}

type ignoreRule struct {
	negated  bool
	dirOnly  bool
	anchored bool // pattern contains a slash and matches the full path
	g        glob.Glob
}

// NewIgnoreChecker loads ignore rules for the workspace at root.
func NewIgnoreChecker(root string) *IgnoreChecker {
	ic := &IgnoreChecker{}
	ic.Add(".hologit/")
	ic.Add(".git/")

	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return ic
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ic.Add(scanner.Text())
	}
	return ic
}

// Add appends one gitignore-style line. Blank lines, comments and
// unparsable patterns are skipped.
func (ic *IgnoreChecker) Add(line string) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return
	}
	g, err := glob.Compile(line, '/')
	if err != nil {
		return
	}
	r.g = g
	ic.rules = append(ic.rules, r)
}

// IsIgnored reports whether the slash-separated relative path is ignored.
// The last matching rule wins.
func (ic *IgnoreChecker) IsIgnored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	ignored := false
	for _, r := range ic.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := base
		if r.anchored {
			target = rel
		}
		if r.g.Match(target) {
			ignored = !r.negated
		}
	}
	return ignored
}
