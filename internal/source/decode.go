package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// acceptEncoding lists the content codings decodeBody understands.
const acceptEncoding = "gzip, zstd, lz4"

// decodeBody wraps body according to its Content-Encoding. Closing the
// result closes body.
func decodeBody(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &decodedBody{Reader: gzr, closers: []func() error{gzr.Close, body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			body.Close,
		}}, nil
	case "lz4":
		return &decodedBody{Reader: lz4.NewReader(body), closers: []func() error{body.Close}}, nil
	default:
		_ = body.Close()
		return nil, fmt.Errorf("%w: content encoding %q", ErrUnsupported, encoding)
	}
}

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
