// Package config reads the TOML documents under a workspace's .holo/
// directory and resolves them into flat, immutable definitions.
package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// Dir is the workspace directory holding configuration.
const Dir = ".holo"

// Workspace is the parsed .holo/config.toml.
type Workspace struct {
	Name string
}

// Source names a tree to project from.
type Source struct {
	Name string
	URL  string
	Ref  string
	// Project, when set, projects the fetched tree through one of the
	// source's own branches before use.
	Project *SourceProject
}

// SourceProject selects a branch of a source to project.
type SourceProject struct {
	Branch string
	Lens   bool
}

// LocalRef is the ref that tracks the source's fetched commit.
func (s *Source) LocalRef() string {
	return "refs/sources/" + s.Name + "/" + strings.TrimPrefix(s.Ref, "refs/")
}

// Branch is a projectable holobranch.
type Branch struct {
	Name string
	Lens bool
}

// Mapping merges part of a source into a branch.
type Mapping struct {
	Key string
	// Source is empty for "=>branch" references to the workspace itself.
	Source string
	// SourceBranch, when set, projects that branch of Source (or of the
	// workspace) and uses its output tree.
	SourceBranch string
	Layer        string
	Root         string
	Output       string
	Files        []string
	Before       []string
	After        []string
	Merge        tree.MergeMode
}

// Lens transforms part of a projected tree.
type Lens struct {
	Name   string
	Group  string
	Before []string
	After  []string

	Package   string
	Version   string
	Container string
	Command   string
	Env       map[string]string
	// Extra holds lens-specific settings passed through to the runner.
	Extra map[string]any

	InputRoot   string
	InputFiles  []string
	OutputRoot  string
	OutputMerge tree.MergeMode

	// Timeout and Debug affect execution only.
	Timeout time.Duration
	Debug   bool
}

// IsContainer reports whether the lens runs in a container image.
func (l *Lens) IsContainer() bool { return l.Container != "" }

// stringList accepts either a TOML string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		*s = stringList{x}
	case []any:
		out := make(stringList, 0, len(x))
		for _, item := range x {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, str)
		}
		*s = out
	default:
		return fmt.Errorf("expected string or array, got %T", v)
	}
	return nil
}

// duration accepts a Go duration string.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// CleanPath normalizes a tree-relative path; the root is ".".
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "."
	}
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
