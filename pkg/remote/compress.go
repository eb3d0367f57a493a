package remote

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// encodingZstd is the only content encoding the protocol negotiates.
const encodingZstd = "zstd"

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCodec returns encoders shared by every client and handler in the
// process. Decoded payloads are capped at the push request limit.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(requestLimitPush))
	})
	return zstdEnc, zstdDec, zstdErr
}

func compressZstd(data []byte) ([]byte, error) {
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

// newZstdReader decodes the stream r. The caller closes the result.
func newZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// isZstdEncoded reports whether a Content-Encoding or Accept-Encoding
// header lists zstd.
func isZstdEncoded(header string) bool {
	for _, token := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(token, ";")
		if strings.EqualFold(strings.TrimSpace(name), encodingZstd) {
			return true
		}
	}
	return false
}
