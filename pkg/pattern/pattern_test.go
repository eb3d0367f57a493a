package pattern

import (
	"errors"
	"testing"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		patterns []string
		path     string
		want     bool
	}{
		{nil, "a/b/c.txt", true},
		{[]string{"src/**"}, "src/main.go", true},
		{[]string{"src/**"}, "src/pkg/util.go", true},
		{[]string{"src/**"}, "lib/main.go", false},
		{[]string{"*.md"}, "README.md", true},
		{[]string{"*.md"}, "docs/guide.md", false},
		{[]string{"**/*.md"}, "README.md", true},
		{[]string{"**/*.md"}, "docs/deep/guide.md", true},
		{[]string{"**", "!**/*.test.js"}, "lib/a.test.js", false},
		{[]string{"**", "!**/*.test.js"}, "lib/a.js", true},
		{[]string{"**", "!vendor/**"}, "vendor/x/y.go", false},
		{[]string{"/docs/*"}, "docs/index.html", true},
	}
	for _, c := range cases {
		m, err := Compile(c.patterns)
		if err != nil {
			t.Fatalf("Compile(%v): %v", c.patterns, err)
		}
		if got := m.Match(c.path); got != c.want {
			t.Errorf("Compile(%v).Match(%q) = %v, want %v", c.patterns, c.path, got, c.want)
		}
	}
}

func TestMatchDir(t *testing.T) {
	cases := []struct {
		patterns []string
		dir      string
		want     Coverage
	}{
		{nil, "", All},
		{nil, "anything", All},
		{[]string{"src/**"}, "src", All},
		{[]string{"src/**"}, "src/nested", All},
		{[]string{"src/**"}, "lib", None},
		{[]string{"src/**"}, "", Partial},
		{[]string{"src/lib/**"}, "src", Partial},
		{[]string{"*.md"}, "docs", None},
		{[]string{"**/*.md"}, "docs", Partial},
		{[]string{"**", "!vendor/**"}, "vendor", None},
		{[]string{"**", "!vendor/**"}, "src", All},
		{[]string{"**", "!**/*.test.js"}, "src", Partial},
	}
	for _, c := range cases {
		m, err := Compile(c.patterns)
		if err != nil {
			t.Fatalf("Compile(%v): %v", c.patterns, err)
		}
		if got := m.MatchDir(c.dir); got != c.want {
			t.Errorf("Compile(%v).MatchDir(%q) = %v, want %v", c.patterns, c.dir, got, c.want)
		}
	}
}

func TestCompileInvalidPattern(t *testing.T) {
	for _, p := range [][]string{{"src/[a-"}, {"!"}} {
		_, err := Compile(p)
		if !errors.Is(err, errs.ErrConfig) {
			t.Errorf("Compile(%v) error = %v, want ErrConfig", p, err)
		}
	}
}

func TestMatchesAll(t *testing.T) {
	m, err := Compile([]string{"**"})
	if err != nil {
		t.Fatal(err)
	}
	if !m.MatchesAll() {
		t.Error(`"**" should match all`)
	}
	m, err = Compile([]string{"**", "!x"})
	if err != nil {
		t.Fatal(err)
	}
	if m.MatchesAll() {
		t.Error("exclusion should break MatchesAll")
	}
}
