package cache

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
)

// Remote is a remote build-cache store.
type Remote interface {
	// Name labels provenance refs and metrics.
	Name() string
	// Fetch copies the entry for key and its objects into store. ok is
	// false when the remote has no entry.
	Fetch(ctx context.Context, key object.Hash, store *object.Store) (out object.Hash, ok bool, err error)
	// Push uploads tree and its objects and records it under key.
	Push(ctx context.Context, key, tree object.Hash, store *object.Store) error
}

// RemoteResolver maps configured remote names to URLs. *repo.Repo
// satisfies it.
type RemoteResolver interface {
	RemoteURL(name string) (string, error)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Open returns the cache remote for target, which is either a configured
// remote name or a URL. s3://bucket/prefix selects S3; http(s) and
// holo+http(s) URLs speak the holo protocol.
func Open(ctx context.Context, remotes RemoteResolver, target string) (Remote, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errs.Config("cache remote", "empty remote")
	}
	name, url := target, target
	if !strings.Contains(target, "://") {
		u, err := remotes.RemoteURL(target)
		if err != nil {
			return nil, errs.Config("cache remote "+target, "%v", err)
		}
		url = u
	} else {
		name = strings.Trim(unsafeNameChars.ReplaceAllString(stripScheme(target), "_"), "_")
	}

	switch {
	case strings.HasPrefix(url, "s3://"):
		return NewS3Remote(ctx, name, url, S3Options{})
	case strings.HasPrefix(url, "holo+"), strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return NewHoloRemote(name, strings.TrimPrefix(url, "holo+"), remote.ClientOptions{})
	}
	return nil, errs.Config("cache remote "+target, "unsupported cache url %q", url)
}

func stripScheme(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+3:]
	}
	return url
}

// HoloRemote keeps cache entries as refs on a holo protocol server.
type HoloRemote struct {
	name   string
	client *remote.Client
}

// NewHoloRemote returns a cache remote served at url.
func NewHoloRemote(name, url string, opts remote.ClientOptions) (*HoloRemote, error) {
	c, err := remote.NewClientWithOptions(url, opts)
	if err != nil {
		return nil, errs.Config("cache remote "+name, "%v", err)
	}
	return &HoloRemote{name: name, client: c}, nil
}

func (r *HoloRemote) Name() string { return r.name }

func (r *HoloRemote) Fetch(ctx context.Context, key object.Hash, store *object.Store) (object.Hash, bool, error) {
	ref := Ref(key)
	refs, err := r.client.ListRefs(ctx, ref)
	if err != nil {
		return "", false, err
	}
	out, ok := refs[ref]
	if !ok || out == "" {
		return "", false, nil
	}
	if err := object.ValidateHash(out); err != nil {
		return "", false, fmt.Errorf("remote entry %s: %w", key.Short(), err)
	}
	if _, err := remote.FetchIntoStore(ctx, r.client, store, []object.Hash{out}, nil); err != nil {
		return "", false, err
	}
	return out, true, nil
}

func (r *HoloRemote) Push(ctx context.Context, key, tree object.Hash, store *object.Store) error {
	if tree != object.EmptyTreeHash {
		if _, err := remote.Push(ctx, r.client, store, tree, nil); err != nil {
			return err
		}
	}
	target := tree
	_, err := r.client.UpdateRefs(ctx, []remote.RefUpdate{{Name: Ref(key), New: &target}})
	return err
}
