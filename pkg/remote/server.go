package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// RefStore is the reference storage served by Handler. *repo.Repo
// satisfies it.
type RefStore interface {
	ListRefs(prefix string) (map[string]object.Hash, error)
	ReadRef(name string) (object.Hash, bool, error)
	UpdateRefCAS(name string, h object.Hash, expectedOld ...object.Hash) error
	DeleteRef(name string) error
}

const requestLimitPush = 256 << 20 // 256MB decoded

// Handler serves the holo object protocol over a local object store and
// ref store:
//
//	GET  /refs[?prefix=refs/...|HEAD]
//	POST /refs
//	POST /objects/batch
//	GET  /objects/{hash}
//	POST /objects
type Handler struct {
	store *object.Store
	refs  RefStore
	mux   *http.ServeMux

	// refMu serializes validate-then-apply ref batches.
	refMu sync.Mutex
}

// NewHandler returns a protocol handler backed by store and refs.
func NewHandler(store *object.Store, refs RefStore) *Handler {
	h := &Handler{store: store, refs: refs, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /refs", h.handleListRefs)
	h.mux.HandleFunc("POST /refs", h.handleUpdateRefs)
	h.mux.HandleFunc("POST /objects/batch", h.handleBatch)
	h.mux.HandleFunc("GET /objects/{hash}", h.handleGetObject)
	h.mux.HandleFunc("POST /objects", h.handlePushObjects)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get(headerProtocol); v != "" && v != ProtocolVersion {
		writeRemoteError(w, http.StatusBadRequest, CodeUnsupported, "unsupported protocol version", v)
		return
	}
	w.Header().Set(headerProtocol, ProtocolVersion)
	w.Header().Set(headerCapabilities, negotiate(r.Header.Get(headerCapabilities)))
	h.mux.ServeHTTP(w, r)
}

// negotiate answers a client's capability offer with the common subset,
// or the full server set when the client offered none.
func negotiate(offer string) string {
	ours := ParseCapabilities(ClientCapabilities)
	if strings.TrimSpace(offer) == "" {
		return ours.String()
	}
	return ParseCapabilities(offer).Intersect(ours).String()
}

func (h *Handler) handleListRefs(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "HEAD" {
		head, ok, err := h.refs.ReadRef("HEAD")
		if err != nil {
			writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "read HEAD failed", err.Error())
			return
		}
		out := map[string]string{}
		if ok {
			out["HEAD"] = string(head)
		}
		writeJSON(w, r, out)
		return
	}
	refs, err := h.refs.ListRefs(strings.TrimPrefix(prefix, "refs/"))
	if err != nil {
		writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "list refs failed", err.Error())
		return
	}
	out := make(map[string]string, len(refs))
	for name, hash := range refs {
		out[name] = string(hash)
	}
	writeJSON(w, r, out)
}

func (h *Handler) handleUpdateRefs(w http.ResponseWriter, r *http.Request) {
	var req refUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid ref update body", err.Error())
		return
	}
	if len(req.Updates) == 0 {
		writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "no ref updates", "")
		return
	}

	h.refMu.Lock()
	defer h.refMu.Unlock()

	for _, u := range req.Updates {
		if !strings.HasPrefix(u.Name, "refs/") {
			writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid ref name", u.Name)
			return
		}
		if u.New != nil && *u.New != "" {
			target := object.Hash(*u.New)
			if err := object.ValidateHash(target); err != nil {
				writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid ref target", err.Error())
				return
			}
			if !h.store.Has(target) {
				writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "ref target not present", *u.New)
				return
			}
		}
		if u.Old == nil {
			continue
		}
		current, _, err := h.refs.ReadRef(u.Name)
		if err != nil {
			writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "read ref failed", err.Error())
			return
		}
		if string(current) != *u.Old {
			writeRemoteError(w, http.StatusConflict, CodeConflict, "ref changed", fmt.Sprintf("%s: expected %q, found %q", u.Name, *u.Old, current))
			return
		}
	}

	updated := make(map[string]string, len(req.Updates))
	for _, u := range req.Updates {
		var err error
		if u.New == nil || *u.New == "" {
			err = h.refs.DeleteRef(u.Name)
			updated[u.Name] = ""
		} else {
			err = h.refs.UpdateRefCAS(u.Name, object.Hash(*u.New))
			updated[u.Name] = *u.New
		}
		if err != nil {
			writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "update ref failed", err.Error())
			return
		}
	}
	writeJSON(w, r, refUpdateResponse{Updated: updated})
}

var (
	errBatchFull     = errors.New("batch full")
	errObjectMissing = errors.New("object missing")
)

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<20)).Decode(&req); err != nil {
		writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid batch body", err.Error())
		return
	}
	limit := req.MaxObjects
	if limit <= 0 || limit > MaxBatchObjects {
		limit = MaxBatchObjects
	}
	toHashes := func(in []string) []object.Hash {
		out := make([]object.Hash, len(in))
		for i, s := range in {
			out[i] = object.Hash(s)
		}
		return out
	}

	stop, err := h.store.ReachableSet(toHashes(req.Haves))
	if err != nil {
		writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "batch negotiation failed", err.Error())
		return
	}

	var (
		resp    batchResponse
		missing object.Hash
	)
	err = h.store.Walk(toHashes(req.Wants), object.WalkOptions{
		Skip: func(x object.Hash) bool {
			_, ok := stop[x]
			return ok
		},
		Missing: func(x object.Hash) (bool, error) {
			missing = x
			return false, errObjectMissing
		},
	}, func(x object.Hash, t object.ObjectType, data []byte) error {
		if len(resp.Objects) >= limit {
			return errBatchFull
		}
		resp.Objects = append(resp.Objects, wireObject{Hash: string(x), Type: string(t), Data: data})
		return nil
	})
	switch {
	case errors.Is(err, errBatchFull):
		resp.Truncated = true
	case errors.Is(err, errObjectMissing):
		writeRemoteError(w, http.StatusNotFound, CodeNotFound, "object not found", string(missing))
		return
	case err != nil:
		writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "batch walk failed", err.Error())
		return
	}
	writeJSON(w, r, resp)
}

func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	hash := object.Hash(r.PathValue("hash"))
	if err := object.ValidateHash(hash); err != nil {
		writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid object hash", err.Error())
		return
	}
	if !h.store.Has(hash) {
		writeRemoteError(w, http.StatusNotFound, CodeNotFound, "object not found", string(hash))
		return
	}
	objType, data, err := h.store.Read(hash)
	if err != nil {
		writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "read object failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(headerObjectType, string(objType))
	_, _ = w.Write(data)
}

func (h *Handler) handlePushObjects(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if isZstdEncoded(r.Header.Get("Content-Encoding")) {
		zr, err := newZstdReader(r.Body)
		if err != nil {
			writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid zstd body", err.Error())
			return
		}
		defer zr.Close()
		body = zr
	}

	dec := json.NewDecoder(io.LimitReader(body, requestLimitPush))
	received := 0
	for {
		var obj wireObject
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid object record", err.Error())
			return
		}
		objType, err := object.ParseObjectType(obj.Type)
		if err != nil {
			writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "invalid object type", err.Error())
			return
		}
		if _, err := writeVerifiedObject(h.store, ObjectRecord{Hash: object.Hash(obj.Hash), Type: objType, Data: obj.Data}); err != nil {
			writeRemoteError(w, http.StatusBadRequest, CodeBadRequest, "object rejected", err.Error())
			return
		}
		received++
	}
	writeJSON(w, r, map[string]int{"received": received})
}

// writeJSON encodes v, compressing with zstd when the client accepts it.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeRemoteError(w, http.StatusInternalServerError, CodeInternal, "encode response failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if isZstdEncoded(r.Header.Get("Accept-Encoding")) {
		if compressed, err := compressZstd(data); err == nil {
			w.Header().Set("Content-Encoding", encodingZstd)
			data = compressed
		}
	}
	_, _ = w.Write(data)
}
