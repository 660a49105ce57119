package datasource

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionFor maps a file name to a codec by extension.
func CompressionFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return "gzip"
	case ".zst", ".zstd":
		return "zstd"
	case ".lz4":
		return "lz4"
	}
	return "none"
}

// Decompress wraps rc with a decoder for codec. Closing the result closes
// rc.
func Decompress(rc io.ReadCloser, codec string) (io.ReadCloser, error) {
	switch codec {
	case "", "none":
		return rc, nil
	case "gzip":
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
		return &stacked{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case "zstd":
		zr, err := zstd.NewReader(rc)
		if err != nil {
			return nil, err
		}
		return &stacked{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), rc}}, nil
	case "lz4":
		return &stacked{Reader: lz4.NewReader(rc), closers: []io.Closer{rc}}, nil
	}
	return nil, fmt.Errorf("unknown compression %q", codec)
}

// stacked closes every layer, innermost last.
type stacked struct {
	io.Reader
	closers []io.Closer
}

func (s *stacked) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
