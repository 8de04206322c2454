package httpserver

import (
	"io"
	"net/http"

	"github.com/klauspost/compress/zstd"
)

// zstdDecoder is shared across requests; klauspost/compress/zstd's Decoder
// is safe for concurrent use via DecodeAll/IOReadCloser-per-call so long as
// the shared decoder itself is only used to spawn readers, not read from
// directly. We keep a single long-lived decoder to reuse its dictionary/
// window buffers.
type zstdDecoder struct {
	dec *zstd.Decoder
}

func newZstdDecoder() (*zstdDecoder, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdDecoder{dec: dec}, nil
}

// decodeBody decodes body if the request declares Content-Encoding: zstd
// (spec §6), otherwise returns it unchanged.
func (z *zstdDecoder) decodeBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if r.Header.Get("Content-Encoding") != "zstd" {
		return raw, nil
	}
	return z.dec.DecodeAll(raw, nil)
}
