package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 17) ^ (y * 31)),
				G: uint8((x * 43) + (y * 13)),
				B: uint8((x * 7) ^ (y * 11)),
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	decoder, err := NewDecoder("std")
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return NewLoader(decoder, 5*time.Second, 1<<20)
}

func checkSameImage(t *testing.T, want *image.RGBA, got *image.NRGBA) {
	t.Helper()
	if got.Bounds() != want.Bounds() {
		t.Fatalf("bounds = %v, want %v", got.Bounds(), want.Bounds())
	}
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			w := want.RGBAAt(x, y)
			g := got.NRGBAAt(x, y)
			if w.R != g.R || w.G != g.G || w.B != g.B || w.A != g.A {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, g, w)
			}
		}
	}
}

func TestLoad_Sources(t *testing.T) {
	src := makeTestImage(31, 17)
	data := encodePNG(t, src)

	path := filepath.Join(t.TempDir(), "image.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	loader := newTestLoader(t)
	for _, tc := range []struct {
		name   string
		source Source
	}{
		{name: "bytes", source: Source{Data: data}},
		{name: "file", source: Source{Path: path}},
		{name: "http", source: Source{URL: server.URL + "/image.png"}},
		{name: "data_url", source: Source{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img, err := loader.Load(context.Background(), tc.source)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			checkSameImage(t, src, img)
		})
	}
}

func TestLoad_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	loader := newTestLoader(t)
	for _, tc := range []struct {
		name    string
		source  Source
		wantErr error
	}{
		{name: "empty", source: Source{}, wantErr: ErrEmptySource},
		{name: "garbage", source: Source{Data: []byte("definitely not an image")}},
		{name: "missing_file", source: Source{Path: filepath.Join(t.TempDir(), "missing.png")}, wantErr: os.ErrNotExist},
		{name: "http_404", source: Source{URL: server.URL + "/missing.png"}},
		{name: "bad_scheme", source: Source{URL: "ftp://example.com/a.png"}},
		{name: "bad_data_url", source: Source{URL: "data:image/png;base64"}},
		{name: "too_large", source: Source{Path: writeLarge(t)}, wantErr: ErrTooLarge},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.Load(context.Background(), tc.source)
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected *LoadError, got %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func writeLarge(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "large.bin")
	if err := os.WriteFile(p, make([]byte, 2<<20), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return p
}

func TestToNRGBA(t *testing.T) {
	src := makeTestImage(10, 8)
	sub := src.SubImage(image.Rect(2, 3, 9, 8))

	got := ToNRGBA(sub)
	if got.Bounds() != image.Rect(0, 0, 7, 5) {
		t.Fatalf("bounds = %v, want origin-based 7x5", got.Bounds())
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			w := src.RGBAAt(x+2, y+3)
			g := got.NRGBAAt(x, y)
			if w.R != g.R || w.G != g.G || w.B != g.B {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, g, w)
			}
		}
	}

	same := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if ToNRGBA(same) != same {
		t.Errorf("expected origin-based NRGBA to be returned as is")
	}
}

func TestSourceString(t *testing.T) {
	for _, tc := range []struct {
		source Source
		want   string
	}{
		{Source{Data: []byte{1, 2, 3}}, "bytes(3)"},
		{Source{Path: "/tmp/a.png"}, "file:/tmp/a.png"},
		{Source{URL: "data:image/png;base64,AAAA"}, "data-url"},
		{Source{URL: "https://example.com/a.png"}, "https://example.com/a.png"},
		{Source{}, "empty"},
	} {
		if got := tc.source.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestNewDecoder_Unknown(t *testing.T) {
	if _, err := NewDecoder("magick"); err == nil {
		t.Errorf("expected error for unknown backend")
	}
}
