// Package extract reads submission text from files given to the CLI.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxBytes bounds the text read from a single file.
const MaxBytes = 1 << 20

// ErrNotText is returned for files that are not UTF-8 text.
var ErrNotText = errors.New("file is not UTF-8 text")

// FromFile returns the text content of path. PDF files are reduced to their
// plain text; anything else must be UTF-8.
func FromFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fromPDF(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return FromReader(f)
}

// FromReader reads UTF-8 text from r, up to MaxBytes.
func FromReader(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	if len(b) > MaxBytes {
		return "", fmt.Errorf("text exceeds %d bytes", MaxBytes)
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(b) {
		return "", ErrNotText
	}
	return string(b), nil
}

func fromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return FromReader(plain)
}
