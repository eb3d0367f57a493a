package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
)

// HoloFetcher fetches sources served over the holo object protocol.
type HoloFetcher struct {
	Store   *object.Store
	Options remote.ClientOptions
}

// Fetch resolves src.Ref on the remote and copies the commit's object graph
// into the store, sending prev as a have.
func (f *HoloFetcher) Fetch(ctx context.Context, src *config.Source, prev object.Hash) (object.Hash, error) {
	client, err := remote.NewClientWithOptions(strings.TrimPrefix(src.URL, holoScheme), f.Options)
	if err != nil {
		return "", errs.Config("holosource "+src.Name, "%v", err)
	}
	refs, err := client.ListRefs(ctx, src.Ref)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", src.Ref, err)
	}
	h, ok := refs[src.Ref]
	if !ok {
		return "", errs.Resolution("fetch source "+src.Name, "remote has no ref %s", src.Ref)
	}

	var haves []object.Hash
	if prev != "" {
		haves = append(haves, prev)
	}
	if _, err := remote.FetchIntoStore(ctx, client, f.Store, []object.Hash{h}, haves); err != nil {
		return "", err
	}
	if _, err := f.Store.ReadCommit(h); err != nil {
		return "", errs.Resolution("fetch source "+src.Name, "%s does not name a commit: %v", src.Ref, err)
	}
	return h, nil
}
