package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// Endpoint is a parsed holo protocol server address. BaseURL carries no
// credentials, query, fragment or trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	user    string
	pass    string
}

// ParseEndpoint parses an http(s) URL, optionally spelled with the holo+
// scheme prefix sources use. Embedded credentials are kept for Basic auth.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote url is empty")
	}
	u, err := url.Parse(strings.TrimPrefix(raw, "holo+"))
	if err != nil {
		return Endpoint{}, fmt.Errorf("remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("remote url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote url %q has no host", raw)
	}

	ep := Endpoint{Raw: raw}
	if u.User != nil {
		ep.user = u.User.Username()
		ep.pass, _ = u.User.Password()
	}
	base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	ep.BaseURL = strings.TrimRight(base.String(), "/")
	return ep, nil
}

// ObjectRecord is an object as it travels between stores.
type ObjectRecord struct {
	Hash object.Hash
	Type object.ObjectType
	Data []byte
}

// RefUpdate is one compare-and-swap ref update. A nil Old skips the
// compare, a pointer to "" requires the ref to be absent, and a nil or
// empty New deletes the ref.
type RefUpdate struct {
	Name string
	Old  *object.Hash
	New  *object.Hash
}

// ClientOptions configures a Client. Zero values take defaults.
type ClientOptions struct {
	Timeout     time.Duration // per request, default 60s
	MaxAttempts int           // default 3
	HTTPClient  *http.Client  // replaces the default client; Timeout is then ignored
}

// Response size limits, before decompression.
const (
	responseLimitRefs   = 8 << 20
	responseLimitBatch  = 64 << 20
	responseLimitObject = 32 << 20
	responseLimitSmall  = 1 << 20
)

// Client speaks the holo object protocol to one server.
//
// Credentials come from HOLO_TOKEN (Bearer), then HOLO_USERNAME and
// HOLO_PASSWORD (Basic), then the URL's userinfo.
type Client struct {
	endpoint Endpoint
	http     *http.Client
	retry    retryPolicy
	token    string
	user     string
	pass     string
}

// NewClient returns a Client with default options.
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	ep, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	c := &Client{
		endpoint: ep,
		http:     opts.HTTPClient,
		retry:    defaultRetryPolicy(opts.MaxAttempts),
		token:    strings.TrimSpace(os.Getenv("HOLO_TOKEN")),
		user:     strings.TrimSpace(os.Getenv("HOLO_USERNAME")),
		pass:     os.Getenv("HOLO_PASSWORD"),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: opts.Timeout}
	}
	if c.token == "" && c.user == "" {
		c.user, c.pass = ep.user, ep.pass
	}
	return c, nil
}

func (c *Client) Endpoint() Endpoint { return c.endpoint }

// request describes one protocol call.
type request struct {
	method   string
	path     string
	body     []byte
	ctype    string // of body
	encoding string // Content-Encoding of body
	limit    int64
}

// send performs r with retries and returns the status, headers and
// decoded body. Non-2xx answers are returned, not turned into errors.
func (c *Client) send(ctx context.Context, r request) (*http.Response, []byte, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint.BaseURL+r.path, body)
	if err != nil {
		return nil, nil, err
	}
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if r.encoding != "" {
		req.Header.Set("Content-Encoding", r.encoding)
	}
	req.Header.Set("Accept-Encoding", encodingZstd)
	req.Header.Set(headerProtocol, ProtocolVersion)
	req.Header.Set(headerCapabilities, ClientCapabilities)
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "":
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.retry.do(c.http, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.limit))
	if err != nil {
		return nil, nil, err
	}
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		if data, err = decompressZstd(data); err != nil {
			return nil, nil, fmt.Errorf("%s %s: decompress response: %w", r.method, r.path, err)
		}
	}
	return resp, data, nil
}

// call performs r and decodes a 200 JSON answer into out.
func (c *Client) call(ctx context.Context, r request, out any) error {
	resp, data, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return responseError(r, resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", r.method, r.path, err)
	}
	return nil
}

func jsonRequest(method, path string, v any, limit int64) (request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return request{}, err
	}
	return request{method: method, path: path, body: body, ctype: "application/json", limit: limit}, nil
}

func responseError(r request, status int, body []byte) error {
	if re := tryParseRemoteError(status, body); re != nil {
		return re
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RemoteError{
		Status:  status,
		Code:    strconv.Itoa(status),
		Message: "remote request failed",
		Detail:  fmt.Sprintf("%s %s: %s", r.method, r.path, msg),
	}
}

// ListRefs returns the server's refs by full name. A non-empty prefix
// limits the listing to names under it.
func (c *Client) ListRefs(ctx context.Context, prefix string) (map[string]object.Hash, error) {
	path := "/refs"
	if prefix != "" {
		path += "?prefix=" + url.QueryEscape(prefix)
	}
	var raw map[string]string
	if err := c.call(ctx, request{method: http.MethodGet, path: path, limit: responseLimitRefs}, &raw); err != nil {
		return nil, err
	}
	refs := make(map[string]object.Hash, len(raw))
	for name, hash := range raw {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		h := object.Hash(strings.TrimSpace(hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("ref %s: %w", name, err)
		}
		refs[name] = h
	}
	return refs, nil
}

type batchRequest struct {
	Wants      []string `json:"wants"`
	Haves      []string `json:"haves,omitempty"`
	MaxObjects int      `json:"max_objects,omitempty"`
}

type wireObject struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

type batchResponse struct {
	Objects   []wireObject `json:"objects"`
	Truncated bool         `json:"truncated"`
}

func hashStrings(in []object.Hash) []string {
	out := make([]string, 0, len(in))
	for _, h := range object.UniqueHashes(in) {
		out = append(out, string(h))
	}
	return out
}

// BatchObjects asks for the objects reachable from wants and not from
// haves. truncated reports that the server stopped at maxObjects.
func (c *Client) BatchObjects(ctx context.Context, wants, haves []object.Hash, maxObjects int) (objects []ObjectRecord, truncated bool, err error) {
	body := batchRequest{Wants: hashStrings(wants), Haves: hashStrings(haves), MaxObjects: maxObjects}
	if len(body.Wants) == 0 {
		return nil, false, fmt.Errorf("batch: no wants")
	}
	if len(body.Haves) == 0 {
		body.Haves = nil
	}
	r, err := jsonRequest(http.MethodPost, "/objects/batch", body, responseLimitBatch)
	if err != nil {
		return nil, false, err
	}
	var resp batchResponse
	if err := c.call(ctx, r, &resp); err != nil {
		return nil, false, err
	}

	objects = make([]ObjectRecord, 0, len(resp.Objects))
	for _, w := range resp.Objects {
		t, err := object.ParseObjectType(w.Type)
		if err != nil {
			return nil, false, fmt.Errorf("batch: %w", err)
		}
		h := object.Hash(strings.TrimSpace(w.Hash))
		if err := object.ValidateHash(h); err != nil {
			return nil, false, fmt.Errorf("batch: %w", err)
		}
		objects = append(objects, ObjectRecord{Hash: h, Type: t, Data: w.Data})
	}
	return objects, resp.Truncated, nil
}

// GetObject fetches one object.
func (c *Client) GetObject(ctx context.Context, hash object.Hash) (ObjectRecord, error) {
	if err := object.ValidateHash(hash); err != nil {
		return ObjectRecord{}, fmt.Errorf("get object: %w", err)
	}
	r := request{method: http.MethodGet, path: "/objects/" + string(hash), limit: responseLimitObject}
	resp, data, err := c.send(ctx, r)
	if err != nil {
		return ObjectRecord{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ObjectRecord{}, responseError(r, resp.StatusCode, data)
	}
	t, err := object.ParseObjectType(resp.Header.Get(headerObjectType))
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("get object %s: %w", hash.Short(), err)
	}
	return ObjectRecord{Hash: hash, Type: t, Data: data}, nil
}

// PushObjects uploads objects as zstd-compressed newline-delimited JSON.
// Hashes are recomputed; a record whose given hash disagrees is refused
// before anything is sent.
func (c *Client) PushObjects(ctx context.Context, objects []ObjectRecord) error {
	if len(objects) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, obj := range objects {
		if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
		h := object.HashObject(obj.Type, obj.Data)
		if obj.Hash != "" && obj.Hash != h {
			return fmt.Errorf("push object %d: hash mismatch (given %s, content %s)", i, obj.Hash.Short(), h.Short())
		}
		if err := enc.Encode(wireObject{Hash: string(h), Type: string(obj.Type), Data: obj.Data}); err != nil {
			return fmt.Errorf("push object %d: %w", i, err)
		}
	}
	packed, err := compressZstd(buf.Bytes())
	if err != nil {
		return fmt.Errorf("push: compress: %w", err)
	}
	var ack map[string]int
	return c.call(ctx, request{
		method:   http.MethodPost,
		path:     "/objects",
		body:     packed,
		ctype:    "application/x-ndjson",
		encoding: encodingZstd,
		limit:    responseLimitSmall,
	}, &ack)
}

type refUpdatePayload struct {
	Name string  `json:"name"`
	Old  *string `json:"old,omitempty"`
	New  *string `json:"new"`
}

type refUpdateRequest struct {
	Updates []refUpdatePayload `json:"updates"`
}

type refUpdateResponse struct {
	Updated map[string]string `json:"updated"`
}

// UpdateRefs applies compare-and-swap updates. The server checks every
// update before applying any.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate) (map[string]object.Hash, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("update refs: no updates")
	}
	body := refUpdateRequest{Updates: make([]refUpdatePayload, 0, len(updates))}
	for _, u := range updates {
		p := refUpdatePayload{Name: strings.TrimSpace(u.Name), New: new(string)}
		if p.Name == "" {
			return nil, fmt.Errorf("update refs: empty ref name")
		}
		if u.Old != nil {
			old := strings.TrimSpace(string(*u.Old))
			p.Old = &old
		}
		if u.New != nil {
			*p.New = strings.TrimSpace(string(*u.New))
		}
		body.Updates = append(body.Updates, p)
	}

	r, err := jsonRequest(http.MethodPost, "/refs", body, responseLimitSmall)
	if err != nil {
		return nil, err
	}
	var resp refUpdateResponse
	if err := c.call(ctx, r, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]object.Hash, len(resp.Updated))
	for name, h := range resp.Updated {
		out[name] = object.Hash(strings.TrimSpace(h))
	}
	return out, nil
}
