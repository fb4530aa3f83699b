package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFromFile_Text(t *testing.T) {
	path := writeFile(t, "in.txt", []byte("\xef\xbb\xbfనాకు ఎగరాలి అని ఉంది\n"))
	got, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if got != "నాకు ఎగరాలి అని ఉంది\n" {
		t.Errorf("got %q", got)
	}
}

func TestFromFile_NotText(t *testing.T) {
	path := writeFile(t, "blob.bin", []byte{0xff, 0xfe, 0x00, 0x80})
	if _, err := FromFile(path); !errors.Is(err, ErrNotText) {
		t.Errorf("err = %v, want ErrNotText", err)
	}
}

func TestFromFile_Missing(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "nope.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}

func TestFromFile_BrokenPDF(t *testing.T) {
	path := writeFile(t, "broken.PDF", []byte("not really a pdf"))
	if _, err := FromFile(path); err == nil {
		t.Error("expected an error for a broken pdf")
	}
}

func TestFromReader_TooLarge(t *testing.T) {
	_, err := FromReader(strings.NewReader(strings.Repeat("a", MaxBytes+1)))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v, want size error", err)
	}
}
