package lens

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
	"github.com/JarvusInnovations/hologit-sub000/pkg/worktree"
)

// Invocation is one lens run handed to a Runner.
type Invocation struct {
	Lens *config.Lens
	// Input is the isolated input tree.
	Input object.Hash
	// Identity is the pinned package or image.
	Identity string
	Spec     object.Hash
}

// Runner executes a lens and returns the hash of its output tree. The tree
// and its contents must already be in the store.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (object.Hash, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inv Invocation) (object.Hash, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (object.Hash, error) { return f(ctx, inv) }

const (
	containerInput  = "/holo/input"
	containerOutput = "/holo/output"
	outputTailLimit = 4 << 10
)

// ExecRunner runs lenses as local processes. The input tree is exported to
// a temporary directory which becomes the working directory. Package
// lenses run their command through sh; container lenses run it inside
// docker with the input and output directories mounted. Files written to
// $HOLO_OUTPUT form the output; when nothing is written there the working
// directory is taken as transformed in place.
type ExecRunner struct {
	Blobs   worktree.BlobStore
	Session *tree.Session
	Log     *logging.Logger
	// Docker is the CLI binary; "docker" when empty.
	Docker string
	// TempDir holds scratch directories; os.TempDir when empty.
	TempDir string
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (object.Hash, error) {
	l := inv.Lens
	op := "run lens " + l.Name

	scratch, err := os.MkdirTemp(r.TempDir, "holo-lens-")
	if err != nil {
		return "", errs.Storage(op, err)
	}
	defer os.RemoveAll(scratch)
	inputDir := filepath.Join(scratch, "input")
	outputDir := filepath.Join(scratch, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errs.Storage(op, err)
	}
	if err := worktree.Export(ctx, r.Session.Bind(inv.Input), r.Blobs, inputDir); err != nil {
		return "", err
	}

	var cmd *exec.Cmd
	if l.IsContainer() {
		cmd = r.containerCommand(ctx, inv, inputDir, outputDir)
	} else {
		vars := lensVars(inv, inputDir, outputDir)
		cmd = exec.CommandContext(ctx, "sh", "-c", expand(l.Command, vars))
		cmd.Dir = inputDir
		cmd.Env = append(os.Environ(), envList(vars)...)
	}

	var out tailBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	r.Log.Debugf("lens %s: %s", l.Name, strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		if ctxErr := errs.Cancelled(ctx, op); ctxErr != nil {
			return "", ctxErr
		}
		return "", errs.Execution(op, "%v\n%s", err, out.String())
	}
	if l.Debug {
		r.Log.Infof("lens %s output:\n%s", l.Name, out.String())
	}

	resultDir := outputDir
	if empty, err := dirEmpty(outputDir); err != nil {
		return "", errs.Storage(op, err)
	} else if empty {
		resultDir = inputDir
	}
	node, err := worktree.Import(ctx, resultDir, r.Blobs, r.Session, worktree.ImportOptions{})
	if err != nil {
		return "", err
	}
	return node.Write(ctx)
}

func (r *ExecRunner) containerCommand(ctx context.Context, inv Invocation, inputDir, outputDir string) *exec.Cmd {
	docker := r.Docker
	if docker == "" {
		docker = "docker"
	}
	vars := lensVars(inv, containerInput, containerOutput)
	args := []string{
		"run", "--rm",
		"-v", inputDir + ":" + containerInput,
		"-v", outputDir + ":" + containerOutput,
		"-w", containerInput,
	}
	for _, kv := range envList(vars) {
		args = append(args, "-e", kv)
	}
	args = append(args, inv.Identity)
	if cmdline := strings.TrimSpace(inv.Lens.Command); cmdline != "" {
		args = append(args, "sh", "-c", expand(cmdline, vars))
	}
	return exec.CommandContext(ctx, docker, args...)
}

// lensVars are the variables visible to a lens command: its env table
// plus HOLO_INPUT, HOLO_OUTPUT, HOLO_LENS and HOLO_SPEC.
func lensVars(inv Invocation, input, output string) map[string]string {
	vars := make(map[string]string, len(inv.Lens.Env)+4)
	for k, v := range inv.Lens.Env {
		vars[k] = v
	}
	vars["HOLO_INPUT"] = input
	vars["HOLO_OUTPUT"] = output
	vars["HOLO_LENS"] = inv.Lens.Name
	vars["HOLO_SPEC"] = string(inv.Spec)
	if !inv.Lens.IsContainer() {
		vars["HOLO_PACKAGE"] = inv.Identity
	}
	return vars
}

// expand substitutes ${NAME} and $NAME from vars, leaving unknown names for
// the shell.
func expand(tmpl string, vars map[string]string) string {
	return os.Expand(tmpl, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

func envList(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func dirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// tailBuffer keeps the last outputTailLimit bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - outputTailLimit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
