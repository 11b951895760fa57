package memdom

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decompressingTransport advertises brotli and gzip and decodes the
// response body. Setting Accept-Encoding disables the transport's own
// transparent gzip handling, so both encodings are decoded here.
type decompressingTransport struct {
	next http.RoundTripper
}

func newDecompressingTransport(next http.RoundTripper) *decompressingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &decompressingTransport{next: next}
}

func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip")
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// bodyCloser closes the decoder and the original body.
type bodyCloser struct {
	io.Reader
	closers []io.Closer
}

func (b *bodyCloser) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// decodeBody unwraps the Content-Encoding layers in reverse order.
func decodeBody(resp *http.Response) error {
	encodings := resp.Header.Values("Content-Encoding")
	if resp.Body == nil || len(encodings) == 0 {
		return nil
	}
	for i := len(encodings) - 1; i >= 0; i-- {
		original := resp.Body
		switch enc := strings.ToLower(strings.TrimSpace(encodings[i])); enc {
		case "br":
			resp.Body = &bodyCloser{Reader: brotli.NewReader(original), closers: []io.Closer{original}}
		case "gzip":
			zr, err := gzip.NewReader(original)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			resp.Body = &bodyCloser{Reader: zr, closers: []io.Closer{zr, original}}
		case "identity", "":
		default:
			return fmt.Errorf("unsupported Content-Encoding: %s", enc)
		}
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
