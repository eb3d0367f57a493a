package lens

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// Spec is the canonical description of one lens run. Its blob hash is the
// cache key.
type Spec struct {
	Lens     string
	Input    object.Hash
	Identity string
	Data     []byte
	Key      object.Hash
}

// BuildSpec renders the spec object for running l over input with the
// package or image pinned to identity. Only fields that can change the
// output take part: ordering, output placement, timeout and debug do not.
func BuildSpec(l *config.Lens, input object.Hash, identity string) (*Spec, error) {
	lensDoc := map[string]any{
		"command": l.Command,
	}
	if l.IsContainer() {
		lensDoc["container"] = identity
	} else {
		lensDoc["package"] = identity
	}
	if len(l.Env) > 0 {
		env := make(map[string]any, len(l.Env))
		for k, v := range l.Env {
			env[k] = v
		}
		lensDoc["env"] = env
	}
	for k, v := range l.Extra {
		lensDoc[k] = v
	}
	doc := map[string]any{
		"holospec": map[string]any{
			"input": string(input),
			"lens":  lensDoc,
		},
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, errs.Config("hololens "+l.Name, "encode spec: %v", err)
	}
	data := buf.Bytes()
	return &Spec{
		Lens:     l.Name,
		Input:    input,
		Identity: identity,
		Data:     data,
		Key:      object.HashObject(object.TypeBlob, data),
	}, nil
}

// Pinner resolves a lens's package or image reference to a concrete
// identity so floating tags do not leak into cache keys.
type Pinner interface {
	Pin(ctx context.Context, l *config.Lens) (string, error)
}

// PinnerFunc adapts a function to Pinner.
type PinnerFunc func(ctx context.Context, l *config.Lens) (string, error)

func (f PinnerFunc) Pin(ctx context.Context, l *config.Lens) (string, error) { return f(ctx, l) }

// Declared returns the identity as written in the lens definition. A
// package without a version is just its name, so its cache keys stay the
// same across package upgrades.
func Declared(l *config.Lens) string {
	if l.IsContainer() {
		return l.Container
	}
	if l.Version == "" {
		return l.Package
	}
	return l.Package + "@" + l.Version
}

// AsDeclared pins nothing.
var AsDeclared Pinner = PinnerFunc(func(_ context.Context, l *config.Lens) (string, error) {
	return Declared(l), nil
})

// DockerPinner pins container images to their repository digest using the
// docker CLI, pulling the image when it is not present. Package lenses keep
// their declared identity.
type DockerPinner struct {
	// Docker is the CLI binary; "docker" when empty.
	Docker string
}

func (p *DockerPinner) Pin(ctx context.Context, l *config.Lens) (string, error) {
	if !l.IsContainer() || strings.Contains(l.Container, "@sha256:") {
		return Declared(l), nil
	}
	op := "pin " + l.Container
	digest, err := p.inspect(ctx, l.Container)
	if err == nil {
		return digest, nil
	}
	if pullErr := p.run(ctx, "pull", "--quiet", l.Container); pullErr != nil {
		if ctxErr := errs.Cancelled(ctx, op); ctxErr != nil {
			return "", ctxErr
		}
		return "", errs.Execution(op, "pull: %v", pullErr)
	}
	digest, err = p.inspect(ctx, l.Container)
	if err != nil {
		return "", errs.Execution(op, "inspect: %v", err)
	}
	return digest, nil
}

func (p *DockerPinner) binary() string {
	if p.Docker == "" {
		return "docker"
	}
	return p.Docker
}

func (p *DockerPinner) inspect(ctx context.Context, image string) (string, error) {
	out, err := exec.CommandContext(ctx, p.binary(), "image", "inspect", "--format", "{{index .RepoDigests 0}}", image).Output()
	if err != nil {
		return "", err
	}
	digest := strings.TrimSpace(string(out))
	if digest == "" {
		return "", fmt.Errorf("image %s has no repository digest", image)
	}
	return digest, nil
}

func (p *DockerPinner) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, p.binary(), args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
