package datasource

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const happinessCSV = "Country,Region,Happiness Score\nSwitzerland,Western Europe,7.587\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func readAll(t *testing.T, uri string, opt Options) string {
	t.Helper()
	rc, err := Open(context.Background(), uri, opt)
	if err != nil {
		t.Fatalf("Open(%q): %v", uri, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %q: %v", uri, err)
	}
	return string(b)
}

func TestOpen_PlainFileAndFileURL(t *testing.T) {
	p := writeFile(t, "2015.csv", []byte(happinessCSV))

	if got := readAll(t, p, Options{}); got != happinessCSV {
		t.Fatalf("plain path: got %q", got)
	}
	if got := readAll(t, "file://"+filepath.ToSlash(p), Options{}); got != happinessCSV {
		t.Fatalf("file url: got %q", got)
	}
}

func TestOpen_DecompressesByExtension(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write([]byte(happinessCSV)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zs := enc.EncodeAll([]byte(happinessCSV), nil)
	_ = enc.Close()

	var l4 bytes.Buffer
	lw := lz4.NewWriter(&l4)
	if _, err := lw.Write([]byte(happinessCSV)); err != nil {
		t.Fatal(err)
	}
	if err := lw.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"2015.csv.gz", gz.Bytes()},
		{"2015.csv.zst", zs},
		{"2015.csv.lz4", l4.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, tt.name, tt.data)
			if got := readAll(t, p, Options{}); got != happinessCSV {
				t.Fatalf("got %q, want %q", got, happinessCSV)
			}
			if got := BaseName(p); got != "2015.csv" {
				t.Fatalf("BaseName=%q, want %q", got, "2015.csv")
			}
		})
	}
}

func TestOpen_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2016.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, happinessCSV)
	}))
	defer srv.Close()

	if got := readAll(t, srv.URL+"/data/2016.csv", Options{}); got != happinessCSV {
		t.Fatalf("got %q", got)
	}

	_, err := Open(context.Background(), srv.URL+"/missing.csv", Options{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestPeek_Bounded(t *testing.T) {
	p := writeFile(t, "2017.csv", []byte(happinessCSV))
	b, err := Peek(context.Background(), p, 7, Options{})
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if string(b) != "Country" {
		t.Fatalf("Peek=%q, want %q", b, "Country")
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "ftp://host/file.csv", Options{}); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := Open(ctx, filepath.Join(t.TempDir(), "nope.csv"), Options{}); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := Open(ctx, "s3://bucket-only", Options{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	p := writeFile(t, "x.csv", []byte("a\n"))
	if _, err := Open(ctx, p, Options{Compression: "brotli"}); err == nil {
		t.Fatalf("expected unknown compression error")
	}
}

func TestS3FromEnv(t *testing.T) {
	t.Setenv("EDA_S3_ENDPOINT", "minio.local:9000")
	t.Setenv("EDA_S3_SECURE", "false")

	cfg, err := S3FromEnv("EDA")
	if err != nil {
		t.Fatalf("S3FromEnv: %v", err)
	}
	if cfg.Endpoint != "minio.local:9000" || cfg.Secure {
		t.Fatalf("cfg=%+v", cfg)
	}
}
