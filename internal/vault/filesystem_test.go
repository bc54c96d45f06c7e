package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		tmpDir := t.TempDir()
		root := filepath.Join(tmpDir, "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "recordings")); err != nil {
			t.Errorf("recordings directory not created: %v", err)
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		tmpDir := t.TempDir()

		if _, err := NewFileSystemVault("test", tmpDir); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_Put(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		size    int64
		wantErr bool
	}{
		{
			name:    "store recording successfully",
			data:    "audio-bytes",
			size:    11,
			wantErr: false,
		},
		{
			name:    "unknown size accepted",
			data:    "stream-of-unknown-length",
			size:    -1,
			wantErr: false,
		},
		{
			name:    "size mismatch",
			data:    "short",
			size:    100,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewFileSystemVault("test", t.TempDir())
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}

			err = v.Put("rec.wav.age", strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				// A failed put must not leave a file behind.
				if ok, _ := v.Exists("rec.wav.age"); ok {
					t.Error("failed Put() left the object in the vault")
				}
				return
			}

			var buf bytes.Buffer
			if err := v.Get("rec.wav.age", &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("Get() = %q, want %q", buf.String(), tt.data)
			}
		})
	}
}

func TestFileSystemVault_Exists(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	ok, err := v.Exists("missing.wav")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("Exists() = true for absent object")
	}

	if err := v.Put("present.wav", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	ok, err = v.Exists("present.wav")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Exists() = false for stored object")
	}
}

func TestFileSystemVault_Get_NotArchived(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.Get("nope.wav", &buf); err == nil {
		t.Error("Get() on absent object succeeded, want error")
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	// The probe file must not linger.
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		t.Fatalf("reading vault dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() == ".write-check" {
			t.Error("ValidateSetup() left its probe file behind")
		}
	}
}

func TestMemoryVault(t *testing.T) {
	v := NewMemoryVault("test")

	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	if err := v.Put("a.wav", strings.NewReader("aaa"), 3); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := v.Put("b.wav", strings.NewReader("bbbb"), -1); err != nil {
		t.Fatalf("Put() with unknown size error = %v", err)
	}
	if err := v.Put("c.wav", strings.NewReader("cc"), 9); err == nil {
		t.Error("Put() with wrong size succeeded, want error")
	}

	if v.Len() != 2 {
		t.Errorf("Len() = %d, want 2", v.Len())
	}

	var buf bytes.Buffer
	if err := v.Get("a.wav", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "aaa" {
		t.Errorf("Get() = %q, want %q", buf.String(), "aaa")
	}

	ok, _ := v.Exists("b.wav")
	if !ok {
		t.Error("Exists() = false for stored object")
	}
	ok, _ = v.Exists("c.wav")
	if ok {
		t.Error("Exists() = true for object whose Put failed")
	}
}
