package config

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

func decode(op string, data []byte, v any) (toml.MetaData, error) {
	md, err := toml.Decode(string(data), v)
	if err != nil {
		return md, errs.Config(op, "parse: %v", err)
	}
	return md, nil
}

// ParseWorkspace parses .holo/config.toml.
func ParseWorkspace(data []byte) (*Workspace, error) {
	var doc struct {
		Holospace struct {
			Name string `toml:"name"`
		} `toml:"holospace"`
	}
	if _, err := decode("holospace", data, &doc); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(doc.Holospace.Name)
	if name == "" {
		return nil, errs.Config("holospace", "holospace.name is required")
	}
	return &Workspace{Name: name}, nil
}

// MarshalWorkspace renders ws as .holo/config.toml.
func MarshalWorkspace(ws *Workspace) ([]byte, error) {
	doc := struct {
		Holospace struct {
			Name string `toml:"name"`
		} `toml:"holospace"`
	}{}
	doc.Holospace.Name = ws.Name
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal workspace: %w", err)
	}
	return buf.Bytes(), nil
}

type sourceDoc struct {
	Holosource struct {
		URL     string `toml:"url"`
		Ref     string `toml:"ref"`
		Project *struct {
			Holobranch string `toml:"holobranch"`
			Lens       *bool  `toml:"lens"`
		} `toml:"project"`
	} `toml:"holosource"`
}

// ParseSource parses .holo/sources/<name>.toml.
func ParseSource(name string, data []byte) (*Source, error) {
	op := "holosource " + name
	var doc sourceDoc
	if _, err := decode(op, data, &doc); err != nil {
		return nil, err
	}
	hs := doc.Holosource
	src := &Source{Name: name, URL: strings.TrimSpace(hs.URL), Ref: strings.TrimSpace(hs.Ref)}
	if src.Ref == "" {
		src.Ref = "HEAD"
	}
	if src.Ref != "HEAD" && !strings.HasPrefix(src.Ref, "refs/") {
		src.Ref = "refs/heads/" + src.Ref
	}
	if hs.Project != nil {
		branch := strings.TrimSpace(hs.Project.Holobranch)
		if branch == "" {
			return nil, errs.Config(op, "project.holobranch is required")
		}
		src.Project = &SourceProject{Branch: branch, Lens: hs.Project.Lens == nil || *hs.Project.Lens}
	}
	return src, nil
}

// MarshalSource renders src as a source document.
func MarshalSource(src *Source) ([]byte, error) {
	type project struct {
		Holobranch string `toml:"holobranch"`
		Lens       bool   `toml:"lens"`
	}
	type holosource struct {
		URL     string   `toml:"url"`
		Ref     string   `toml:"ref,omitempty"`
		Project *project `toml:"project,omitempty"`
	}
	doc := struct {
		Holosource holosource `toml:"holosource"`
	}{Holosource: holosource{URL: src.URL, Ref: src.Ref}}
	if src.Project != nil {
		doc.Holosource.Project = &project{Holobranch: src.Project.Branch, Lens: src.Project.Lens}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal source %s: %w", src.Name, err)
	}
	return buf.Bytes(), nil
}

// ParseBranch parses .holo/branches/<name>.toml. Empty data yields the
// defaults.
func ParseBranch(name string, data []byte) (*Branch, error) {
	var doc struct {
		Holobranch struct {
			Lens *bool `toml:"lens"`
		} `toml:"holobranch"`
	}
	if _, err := decode("holobranch "+name, data, &doc); err != nil {
		return nil, err
	}
	return &Branch{Name: name, Lens: doc.Holobranch.Lens == nil || *doc.Holobranch.Lens}, nil
}

// ParseMapping parses a mapping document. key is the document's path
// under the branch directory without the .toml extension.
func ParseMapping(key string, data []byte) (*Mapping, error) {
	op := "holomapping " + key
	var doc struct {
		Holomapping struct {
			Holosource string     `toml:"holosource"`
			Layer      string     `toml:"layer"`
			Root       string     `toml:"root"`
			Files      stringList `toml:"files"`
			Output     *string    `toml:"output"`
			Before     stringList `toml:"before"`
			After      stringList `toml:"after"`
			Merge      string     `toml:"merge"`
		} `toml:"holomapping"`
	}
	md, err := decode(op, data, &doc)
	if err != nil {
		return nil, err
	}
	if !md.IsDefined("holomapping") {
		return nil, errs.Config(op, "missing [holomapping] table")
	}
	hm := doc.Holomapping

	dir, base := path.Split(key)
	m := &Mapping{Key: key, Root: CleanPath(hm.Root)}

	defaultSource := base
	m.Output = CleanPath(key)
	if strings.HasPrefix(base, "_") {
		defaultSource = strings.TrimPrefix(base, "_")
		m.Output = CleanPath(dir)
	}
	if hm.Output != nil {
		m.Output = CleanPath(*hm.Output)
	}

	ref := strings.TrimSpace(hm.Holosource)
	if ref == "" {
		ref = defaultSource
	}
	if i := strings.Index(ref, "=>"); i >= 0 {
		m.Source = strings.TrimSpace(ref[:i])
		m.SourceBranch = strings.TrimSpace(ref[i+2:])
		if m.SourceBranch == "" {
			return nil, errs.Config(op, "holosource %q names no branch", ref)
		}
	} else {
		m.Source = ref
	}
	if m.Source == "" && m.SourceBranch == "" {
		return nil, errs.Config(op, "no holosource")
	}

	m.Layer = strings.TrimSpace(hm.Layer)
	if m.Layer == "" {
		m.Layer = m.Source
		if m.Layer == "" {
			m.Layer = m.SourceBranch
		}
	}

	m.Files = []string(hm.Files)
	if len(m.Files) == 0 {
		m.Files = []string{"**"}
	}
	m.Before = []string(hm.Before)
	m.After = []string(hm.After)

	if m.Merge, err = tree.ParseMergeMode(hm.Merge); err != nil {
		return nil, errs.E(errs.KindConfig, op, err)
	}
	return m, nil
}

type lensDoc struct {
	Hololens struct {
		Package   string            `toml:"package"`
		Version   string            `toml:"version"`
		Container string            `toml:"container"`
		Command   string            `toml:"command"`
		Env       map[string]string `toml:"env"`
		Group     string            `toml:"group"`
		Before    stringList        `toml:"before"`
		After     stringList        `toml:"after"`
		Timeout   duration          `toml:"timeout"`
		Debug     bool              `toml:"debug"`
		Input     struct {
			Root  string     `toml:"root"`
			Files stringList `toml:"files"`
		} `toml:"input"`
		Output struct {
			Root  string `toml:"root"`
			Merge string `toml:"merge"`
		} `toml:"output"`
	} `toml:"hololens"`
}

var knownLensKeys = map[string]bool{
	"package": true, "version": true, "container": true, "command": true,
	"env": true, "group": true, "before": true, "after": true,
	"timeout": true, "debug": true, "input": true, "output": true,
}

// ParseLens parses a lens document. Keys under [hololens] that are not
// lens settings are kept in Extra.
func ParseLens(name string, data []byte) (*Lens, error) {
	op := "hololens " + name
	var doc lensDoc
	md, err := decode(op, data, &doc)
	if err != nil {
		return nil, err
	}
	if !md.IsDefined("hololens") {
		return nil, errs.Config(op, "missing [hololens] table")
	}
	var raw struct {
		Hololens map[string]any `toml:"hololens"`
	}
	if _, err := decode(op, data, &raw); err != nil {
		return nil, err
	}

	hl := doc.Hololens
	l := &Lens{
		Name:       name,
		Group:      strings.TrimSpace(hl.Group),
		Before:     []string(hl.Before),
		After:      []string(hl.After),
		Package:    strings.TrimSpace(hl.Package),
		Version:    strings.TrimSpace(hl.Version),
		Container:  strings.TrimSpace(hl.Container),
		Command:    hl.Command,
		Env:        hl.Env,
		InputRoot:  CleanPath(hl.Input.Root),
		InputFiles: []string(hl.Input.Files),
		OutputRoot: CleanPath(hl.Output.Root),
		Timeout:    time.Duration(hl.Timeout),
		Debug:      hl.Debug,
	}
	if hl.Output.Root == "" {
		l.OutputRoot = l.InputRoot
	}
	if len(l.InputFiles) == 0 {
		l.InputFiles = []string{"**"}
	}
	if l.Env == nil {
		l.Env = map[string]string{}
	}

	switch {
	case l.Package != "" && l.Container != "":
		return nil, errs.Config(op, "package and container are mutually exclusive")
	case l.Package == "" && l.Container == "":
		return nil, errs.Config(op, "one of package or container is required")
	case l.Package != "" && strings.TrimSpace(l.Command) == "":
		return nil, errs.Config(op, "package lenses require a command")
	}

	if l.OutputMerge, err = tree.ParseMergeMode(hl.Output.Merge); err != nil {
		return nil, errs.E(errs.KindConfig, op, err)
	}

	keys := make([]string, 0, len(raw.Hololens))
	for k := range raw.Hololens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if knownLensKeys[k] {
			continue
		}
		if l.Extra == nil {
			l.Extra = map[string]any{}
		}
		l.Extra[k] = raw.Hololens[k]
	}
	return l, nil
}
