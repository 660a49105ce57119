// Package datasource opens raw input streams for the table loaders: local
// files, http(s) URLs and S3-compatible objects, transparently decompressed
// by file extension.
package datasource

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Options configure how sources are opened.
type Options struct {
	// Timeout bounds a whole http(s) transfer. Zero means no timeout.
	Timeout time.Duration
	// Insecure skips TLS certificate verification for http(s) sources.
	Insecure bool
	// S3 is used for s3:// sources.
	S3 S3Config
	// Compression overrides extension sniffing: "gzip", "zstd", "lz4" or
	// "none".
	Compression string
}

// Open returns a reader over the decompressed contents of uri.
//
// Supported forms: a bare local path, file://path, http(s)://... and
// s3://bucket/key.
func Open(ctx context.Context, uri string, opt Options) (io.ReadCloser, error) {
	rc, name, err := openRaw(ctx, uri, opt)
	if err != nil {
		return nil, err
	}
	codec := opt.Compression
	if codec == "" {
		codec = CompressionFor(name)
	}
	out, err := Decompress(rc, codec)
	if err != nil {
		_ = rc.Close()
		return nil, errors.Wrapf(err, "datasource: decompress %s", uri)
	}
	return out, nil
}

// Peek reads at most n decompressed bytes from the start of uri.
func Peek(ctx context.Context, uri string, n int, opt Options) ([]byte, error) {
	rc, err := Open(ctx, uri, opt)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, int64(n)))
	if err != nil {
		return nil, errors.Wrapf(err, "datasource: read sample of %s", uri)
	}
	return b, nil
}

// BaseName returns the file name of uri with any compression extension
// removed, e.g. "2015.csv" for "s3://bucket/happiness/2015.csv.gz". Format
// detection keys on it.
func BaseName(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		p = u.Path
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if CompressionFor(base) != "none" {
		base = strings.TrimSuffix(base, path.Ext(base))
	}
	return base
}

func openRaw(ctx context.Context, uri string, opt Options) (io.ReadCloser, string, error) {
	u, err := url.Parse(uri)
	// Windows drive letters parse as a one-letter scheme.
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return openFile(uri)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		p := u.Path
		if u.Host != "" {
			p = u.Host + p
		}
		return openFile(p)
	case "http", "https":
		return openHTTP(ctx, uri, opt)
	case "s3":
		rc, err := openS3(ctx, opt.S3, u.Host, strings.TrimPrefix(u.Path, "/"))
		return rc, u.Path, err
	}
	return nil, "", errors.Errorf("datasource: unsupported scheme %q in %s", u.Scheme, uri)
}

func openFile(p string) (io.ReadCloser, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, "", errors.Wrap(err, "datasource: open file")
	}
	return f, p, nil
}

func openHTTP(ctx context.Context, uri string, opt Options) (io.ReadCloser, string, error) {
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		rc, name, err := doHTTP(ctx, uri, opt)
		if err != nil {
			cancel()
			return nil, "", err
		}
		return &cancelOnClose{ReadCloser: rc, cancel: cancel}, name, nil
	}
	return doHTTP(ctx, uri, opt)
}

func doHTTP(ctx context.Context, uri string, opt Options) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "datasource: build request")
	}
	client := http.DefaultClient
	if opt.Insecure {
		client = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in
		}}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "datasource: GET %s", uri)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, "", errors.Errorf("datasource: GET %s: status %s", uri, resp.Status)
	}
	return resp.Body, resp.Request.URL.Path, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
