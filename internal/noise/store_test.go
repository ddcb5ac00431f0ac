package noise

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestStore_RoundTrip verifies GenerateAndSave followed by Load(i) returns a
// field bit-identical to a re-read of the file generated at index i.
func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLogger())

	if err := s.GenerateAndSave(3, 40, 8); err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}

	for i := 0; i < 3; i++ {
		loaded, err := s.Load(i)
		if err != nil {
			t.Fatalf("Load(%d): %v", i, err)
		}
		direct, err := ReadField(filepath.Join(dir, fmt.Sprintf("noise_%04d.fnf", i)))
		if err != nil {
			t.Fatalf("ReadField: %v", err)
		}
		if loaded.Rows != 40 || loaded.Cols != 8 {
			t.Fatalf("Load(%d) shape = %dx%d, want 40x8", i, loaded.Rows, loaded.Cols)
		}
		for j := range loaded.Data {
			if loaded.Data[j] != direct.Data[j] {
				t.Fatalf("Load(%d) differs from file at %d", i, j)
			}
		}
	}
}

func TestWriteField_ReadField_BitIdentical(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(24, 8, 24, 123, testLogger())
	orig := g.Render(4, 0, 0, 0.5, 0.5)

	path := filepath.Join(dir, "field.fnf")
	if err := WriteField(path, orig); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	got, err := ReadField(path)
	if err != nil {
		t.Fatalf("ReadField: %v", err)
	}
	if got.Rows != orig.Rows || got.Cols != orig.Cols {
		t.Fatalf("shape mismatch: %dx%d vs %dx%d", got.Rows, got.Cols, orig.Rows, orig.Cols)
	}
	for i := range orig.Data {
		if got.Data[i] != orig.Data[i] {
			t.Fatalf("round trip differs at %d: %v vs %v", i, got.Data[i], orig.Data[i])
		}
	}
}

func TestStore_Load_EmptyDir(t *testing.T) {
	s := NewStore(t.TempDir(), testLogger())
	if _, err := s.Load(-1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load on empty dir = %v, want ErrNotFound", err)
	}
}

func TestStore_Load_IndexOutOfRange(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLogger())
	if err := s.GenerateAndSave(1, 16, 8); err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}
	if _, err := s.Load(5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(5) with 1 file = %v, want ErrNotFound", err)
	}
}

func TestStore_Load_RandomIndex(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLogger())
	if err := s.GenerateAndSave(2, 16, 8); err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}
	f, err := s.Load(-1)
	if err != nil {
		t.Fatalf("Load(-1): %v", err)
	}
	if f.Rows != 16 || f.Cols != 8 {
		t.Errorf("random load shape = %dx%d, want 16x8", f.Rows, f.Cols)
	}
}

func TestReadField_Corrupt(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.fnf")
	if err := os.WriteFile(bad, []byte("not a field"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadField(bad); err == nil {
		t.Error("ReadField on corrupt file succeeded, want error")
	}

	// Valid magic but truncated body.
	trunc := filepath.Join(dir, "trunc.fnf")
	if err := os.WriteFile(trunc, []byte("FNF1\x04\x00\x00\x00\x04\x00\x00\x00short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadField(trunc); err == nil {
		t.Error("ReadField on truncated file succeeded, want error")
	}
}
