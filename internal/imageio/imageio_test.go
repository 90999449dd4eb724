package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 12, 7))
	src.Set(3, 4, color.RGBA{R: 255, A: 255})

	data, err := EncodeBytes(src, PNG, 0)
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	img, format, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 7 {
		t.Errorf("bounds = %v", b)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", []byte("\x89PNG\r\n\x1a\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeBytes(tt.data)
			if !errors.Is(err, ErrImageDecode) {
				t.Errorf("expected ErrImageDecode, got %v", err)
			}
		})
	}
}

// hugePNG returns a valid PNG whose header declares a w x h canvas.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data, err := EncodeBytes(image.NewGray(image.Rect(0, 0, 1, 1)), PNG, 0)
	if err != nil {
		t.Fatal(err)
	}
	// IHDR follows the 8-byte signature: length(4) type(4) data(13) crc(4).
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeRejectsOversizedCanvas(t *testing.T) {
	_, _, err := DecodeBytes(hugePNG(t, 100000, 100000))
	if !errors.Is(err, ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}

	if _, _, err := Decode(bytes.NewReader(hugePNG(t, 1<<20, 1<<20))); !errors.Is(err, ErrImageDecode) {
		t.Errorf("Decode: expected ErrImageDecode, got %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), JPEG, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("missing JPEG SOI marker")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{".jpg", JPEG, false},
		{"JPEG", JPEG, false},
		{"", JPEG, false},
		{"png", PNG, false},
		{".PNG", PNG, false},
		{"gif", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
