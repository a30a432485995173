package httpx

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is what clients advertise when they set the header
// themselves; net/http then stops decompressing transparently and
// DecodeBody takes over.
const AcceptEncoding = "br, gzip"

// DecodeBody undoes a Content-Encoding of br or gzip. Identity and unknown
// encodings pass through untouched.
func DecodeBody(h http.Header, body []byte) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding")))
	if len(body) == 0 {
		return body, nil
	}

	var r io.Reader
	switch enc {
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("httpx: gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return body, nil
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("httpx: decode %s body: %w", enc, err)
	}
	return out, nil
}
