package object

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Store keeps loose objects under root/objects/<2 hex>/<62 hex>. Each file
// holds the zstd-compressed envelope "type len\0content"; lens outputs are
// often large generated trees and compress well.
//
// The empty tree is implicitly present in every store.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir. Directories are created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store was opened at.
func (s *Store) Root() string { return s.root }

func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codec returns the process-wide zstd encoder and decoder. EncodeAll and
// DecodeAll are safe for concurrent use.
func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, codecErr
}

// Compress encodes data with the store's zstd codec.
func Compress(data []byte) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

// Has reports whether h is stored.
func (s *Store) Has(h Hash) bool {
	if h == EmptyTreeHash {
		return true
	}
	if ValidateHash(h) != nil {
		return false
	}
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Write stores data as an object of type t and returns its hash. Existing
// objects are not rewritten; new ones appear atomically via rename.
func (s *Store) Write(t ObjectType, data []byte) (Hash, error) {
	h := HashObject(t, data)
	if s.Has(h) {
		return h, nil
	}
	enc, _, err := codec()
	if err != nil {
		return "", fmt.Errorf("write %s: %w", h.Short(), err)
	}
	payload := enc.EncodeAll(append(envelope(t, len(data)), data...), nil)

	dest := s.objectPath(h)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", h.Short(), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("write %s: %w", h.Short(), err)
	}
	_, err = tmp.Write(payload)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", h.Short(), err)
	}
	return h, nil
}

func envelope(t ObjectType, n int) []byte {
	return []byte(string(t) + " " + strconv.Itoa(n) + "\x00")
}

// Read returns the type and content of h. A missing object yields an error
// wrapping fs.ErrNotExist.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	if h == EmptyTreeHash {
		return TypeTree, nil, nil
	}
	if err := ValidateHash(h); err != nil {
		return "", nil, fmt.Errorf("read %q: %w", h, err)
	}
	payload, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", h.Short(), err)
	}
	_, dec, err := codec()
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", h.Short(), err)
	}
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: decompress: %w", h.Short(), err)
	}
	t, content, err := parseEnvelope(raw)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", h.Short(), err)
	}
	return t, content, nil
}

func parseEnvelope(raw []byte) (ObjectType, []byte, error) {
	header, content, ok := bytes.Cut(raw, []byte{0})
	if !ok {
		return "", nil, fmt.Errorf("object header is not terminated")
	}
	kind, size, ok := bytes.Cut(header, []byte{' '})
	if !ok {
		return "", nil, fmt.Errorf("malformed object header %q", header)
	}
	t, err := ParseObjectType(string(kind))
	if err != nil {
		return "", nil, err
	}
	n, err := strconv.Atoi(string(size))
	if err != nil || n != len(content) {
		return "", nil, fmt.Errorf("object header declares %q bytes, found %d", size, len(content))
	}
	return t, content, nil
}

// ParseObjectType validates a raw object type string.
func ParseObjectType(raw string) (ObjectType, error) {
	switch t := ObjectType(raw); t {
	case TypeBlob, TypeTree, TypeCommit:
		return t, nil
	}
	return "", fmt.Errorf("unsupported object type %q", raw)
}

// readAs reads h, checks its type and decodes it.
func readAs[T any](s *Store, h Hash, want ObjectType, decode func([]byte) (*T, error)) (*T, error) {
	t, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("object %s is a %s, not a %s", h.Short(), t, want)
	}
	return decode(data)
}

func (s *Store) WriteBlob(b *Blob) (Hash, error) { return s.Write(TypeBlob, MarshalBlob(b)) }

func (s *Store) ReadBlob(h Hash) (*Blob, error) { return readAs(s, h, TypeBlob, UnmarshalBlob) }

func (s *Store) WriteTree(tr *TreeObj) (Hash, error) { return s.Write(TypeTree, MarshalTree(tr)) }

func (s *Store) ReadTree(h Hash) (*TreeObj, error) { return readAs(s, h, TypeTree, UnmarshalTree) }

func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	return readAs(s, h, TypeCommit, UnmarshalCommit)
}
