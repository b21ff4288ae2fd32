package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotPNGRejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "cal.png")

	tests := []struct {
		name string
		opts Options
	}{
		{"no url", Options{OutputPath: out, Width: 800, Height: 600}},
		{"no output", Options{URL: "http://127.0.0.1/calendar", Width: 800, Height: 600}},
		{"no viewport", Options{URL: "http://127.0.0.1/calendar", OutputPath: out}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SnapshotPNG(ctx, tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("No file should be written for rejected options")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cal.png")
	if err := writeFileAtomic(path, []byte("png")); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	if err := writeFileAtomic(path, []byte("png2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png2" {
		t.Errorf("Unexpected content %q (%v)", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected temp files cleaned up, found %d entries", len(entries))
	}
}
