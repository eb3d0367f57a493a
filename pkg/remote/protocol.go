package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

const (
	// ProtocolVersion is sent by both sides in the Holo-Protocol header.
	// A server rejects requests naming any other version.
	ProtocolVersion = "1"

	// ClientCapabilities is what this package offers when talking to a
	// server and what Handler answers with.
	ClientCapabilities = "zstd"

	headerProtocol     = "Holo-Protocol"
	headerCapabilities = "Holo-Capabilities"
	headerObjectType   = "Holo-Object-Type"
)

// Capabilities is a set of protocol feature names.
type Capabilities map[string]struct{}

// ParseCapabilities reads a comma-separated header value.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{}
	for name := range strings.SplitSeq(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			caps[name] = struct{}{}
		}
	}
	return caps
}

func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Intersect keeps the names both sides support.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	out := Capabilities{}
	for name := range c {
		if other.Has(name) {
			out[name] = struct{}{}
		}
	}
	return out
}

// String renders the set sorted, in header form.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

// Error codes carried in RemoteError.Code.
const (
	CodeNotFound    = "not_found"
	CodeBadRequest  = "bad_request"
	CodeConflict    = "ref_conflict"
	CodeInternal    = "internal"
	CodeUnsupported = "unsupported"
)

// RemoteError is the JSON error body a server answers with. Status is
// filled in by the client from the HTTP response.
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	s := fmt.Sprintf("%s (%s)", e.Message, e.Code)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

// IsNotFound reports whether err wraps a RemoteError for a missing ref or
// object.
func IsNotFound(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	return re.Code == CodeNotFound || re.Status == http.StatusNotFound
}

// tryParseRemoteError decodes body as a RemoteError, or returns nil when
// it is not one.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	re := &RemoteError{Status: status}
	if json.Unmarshal(body, re) != nil || (re.Code == "" && re.Message == "") {
		return nil
	}
	return re
}

func writeRemoteError(w http.ResponseWriter, status int, code, msg, detail string) {
	body, _ := json.Marshal(&RemoteError{Code: code, Message: msg, Detail: detail})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
