package loader

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/any-globe/internal/cache"
)

func writeBIL(t *testing.T, path string, samples []int16) {
	t.Helper()
	buf := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write bil: %v", err)
	}
}

func TestRawDecoderRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.png")
	os.WriteFile(empty, nil, 0o644)

	dec, err := NewDecoder("raw", 0, 0)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if _, err := dec.Decode(empty); !errors.Is(err, cache.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}

	full := filepath.Join(dir, "tile.png")
	os.WriteFile(full, []byte("png"), 0o644)
	payload, err := dec.Decode(full)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img := payload.(*Image); string(img.Data) != "png" || img.Path != full {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestBILDecoderChecksSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.bil")
	writeBIL(t, path, []int16{1, 2, 3})

	dec, err := NewDecoder("bil", 2, 2)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if _, err := dec.Decode(path); !errors.Is(err, cache.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}

	writeBIL(t, path, []int16{-100, 200, 300, 400})
	payload, err := dec.Decode(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	elev := payload.(*Elevation)
	if elev.Samples[0] != -100 || elev.Samples[3] != 400 {
		t.Fatalf("unexpected samples %v", elev.Samples)
	}
}

func TestNewDecoderValidation(t *testing.T) {
	if _, err := NewDecoder("bil", 0, 10); err == nil {
		t.Fatalf("bil without size should fail")
	}
	if _, err := NewDecoder("jpeg2000", 1, 1); err == nil {
		t.Fatalf("unknown payload should fail")
	}
}

func TestElevationSampleBilinear(t *testing.T) {
	elev := &Elevation{Width: 2, Height: 2, Samples: []int16{0, 100, 200, 300}}
	cases := []struct {
		fx, fy, want float64
	}{
		{0, 0, 0},
		{1, 0, 100},
		{0, 1, 200},
		{1, 1, 300},
		{0.5, 0.5, 150},
		{0.5, 0, 50},
		{-1, 2, 200},
	}
	for _, tc := range cases {
		if got := elev.Sample(tc.fx, tc.fy); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("sample(%v,%v) = %v, want %v", tc.fx, tc.fy, got, tc.want)
		}
	}
	var empty *Elevation
	if empty.Sample(0.5, 0.5) != 0 {
		t.Fatalf("nil grid should sample 0")
	}
}
