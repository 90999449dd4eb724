package cmd

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
)

func TestParseCorners(t *testing.T) {
	bounds := geometry.Ext[geometry.Natural](2000, 1000)
	tests := []struct {
		name    string
		in      string
		space   string
		want    geometry.Point[geometry.Natural]
		wantErr bool
	}{
		{"natural", "10,20 1990,15 1980,990 5,970", "natural", geometry.Pt[geometry.Natural](10, 20), false},
		{"normalized", "500,500 1000,0 1000,1000 0,1000", "normalized", geometry.Pt[geometry.Natural](1000, 500), false},
		{"three corners", "1,1 2,2 3,3", "natural", geometry.Point[geometry.Natural]{}, true},
		{"missing comma", "1 2,2 3,3 4,4", "natural", geometry.Point[geometry.Natural]{}, true},
		{"not a number", "a,1 2,2 3,3 4,4", "natural", geometry.Point[geometry.Natural]{}, true},
		{"unknown space", "1,1 2,2 3,3 4,4", "display", geometry.Point[geometry.Natural]{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := parseCorners(tt.in, tt.space, bounds)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", q)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCorners: %v", err)
			}
			if q[geometry.TopLeft] != tt.want {
				t.Errorf("top left = %+v, want %+v", q[geometry.TopLeft], tt.want)
			}
		})
	}
}

func TestRectifyCommandWithCorners(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.png")
	data, err := imageio.EncodeBytes(image.NewGray(image.Rect(0, 0, 120, 80)), imageio.PNG, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "flat.png")

	root := NewRootCmd()
	root.SetArgs([]string{"rectify", src, "--out", out, "--corners", "10,10 110,10 110,60 10,60"})
	if err := root.Execute(); err != nil {
		t.Fatalf("rectify: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, format, err := imageio.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("output %s %v, want png 100x50", format, img.Bounds())
	}
}

func TestRectifyCommandDegenerate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.png")
	data, _ := imageio.EncodeBytes(image.NewGray(image.Rect(0, 0, 20, 20)), imageio.PNG, 0)
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	root.SetArgs([]string{"rectify", src, "--out", filepath.Join(dir, "x.jpg"), "--corners", "1,1 1,1 5,5 1,5"})
	if err := root.Execute(); err == nil {
		t.Error("expected degenerate corners to fail")
	}
}

func TestSetupLogging(t *testing.T) {
	if err := setupLogging("DEBUG"); err != nil {
		t.Errorf("debug: %v", err)
	}
	if err := setupLogging("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
	_ = setupLogging("info")
}
