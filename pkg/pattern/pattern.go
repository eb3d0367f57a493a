// Package pattern compiles include/exclude file globs and answers two
// questions: does a file path match, and can anything beneath a directory
// match at all. The second lets tree merges skip whole subtrees without
// reading them.
package pattern

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
)

// Coverage describes how a pattern set relates to a directory.
type Coverage int

const (
	// None means no path beneath the directory can match.
	None Coverage = iota
	// Partial means some paths beneath the directory may match.
	Partial
	// All means every path beneath the directory matches.
	All
)

const metaChars = "*?[{\\"

type rule struct {
	raw     string
	globs   []glob.Glob
	literal string // pattern text before the first meta character
	deep    bool   // pattern is literal + "**"
	depth   int    // path segments matched, or -1 when unbounded
}

func (r *rule) match(path string) bool {
	for _, g := range r.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// viable reports whether r could match some path under dir (dir ends in "/").
func (r *rule) viable(dir string) bool {
	if r.depth >= 0 && r.depth <= strings.Count(dir, "/") {
		return false
	}
	return strings.HasPrefix(dir, r.literal) || strings.HasPrefix(r.literal, dir)
}

// covers reports whether r matches every path under dir (dir ends in "/").
func (r *rule) covers(dir string) bool {
	return r.deep && strings.HasPrefix(dir, r.literal)
}

// Matcher is a compiled include/exclude pattern set. Patterns prefixed with
// "!" exclude; a path matches when any include matches and no exclude does.
type Matcher struct {
	includes []*rule
	excludes []*rule
}

// Compile builds a Matcher. An empty pattern list selects everything.
func Compile(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = []string{"**"}
	}
	m := &Matcher{}
	for _, p := range patterns {
		exclude := strings.HasPrefix(p, "!")
		body := strings.TrimPrefix(strings.TrimPrefix(p, "!"), "/")
		if strings.TrimSpace(body) == "" {
			return nil, errs.Config("compile pattern", "empty pattern %q", p)
		}
		r, err := compileRule(body)
		if err != nil {
			return nil, errs.Config("compile pattern", "%q: %v", p, err)
		}
		if exclude {
			m.excludes = append(m.excludes, r)
		} else {
			m.includes = append(m.includes, r)
		}
	}
	return m, nil
}

func compileRule(body string) (*rule, error) {
	sources := []string{body}
	// "**/" also matches zero directories.
	for rest := body; strings.HasPrefix(rest, "**/"); {
		rest = strings.TrimPrefix(rest, "**/")
		sources = append(sources, rest)
	}

	r := &rule{raw: body}
	for _, src := range sources {
		g, err := glob.Compile(src, '/')
		if err != nil {
			return nil, err
		}
		r.globs = append(r.globs, g)
	}

	r.literal = body
	if idx := strings.IndexAny(body, metaChars); idx >= 0 {
		r.literal = body[:idx]
	}
	r.deep = body == r.literal+"**" && (r.literal == "" || strings.HasSuffix(r.literal, "/"))
	r.depth = -1
	if !strings.Contains(body, "**") && !strings.Contains(body, "{") {
		r.depth = strings.Count(body, "/") + 1
	}
	return r, nil
}

// MatchesAll reports whether the matcher selects every path.
func (m *Matcher) MatchesAll() bool {
	return m.MatchDir("") == All
}

// Match reports whether the file at path is selected.
func (m *Matcher) Match(path string) bool {
	included := false
	for _, r := range m.includes {
		if r.match(path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, r := range m.excludes {
		if r.match(path) {
			return false
		}
	}
	return true
}

// MatchDir reports the coverage of the directory at dir. The root is "".
func (m *Matcher) MatchDir(dir string) Coverage {
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	for _, r := range m.excludes {
		if r.covers(dir) {
			return None
		}
	}

	viable, covered := false, false
	for _, r := range m.includes {
		if r.covers(dir) {
			covered = true
		}
		if r.viable(dir) {
			viable = true
		}
	}
	if !viable {
		return None
	}
	if !covered {
		return Partial
	}
	for _, r := range m.excludes {
		if r.viable(dir) {
			return Partial
		}
	}
	return All
}
