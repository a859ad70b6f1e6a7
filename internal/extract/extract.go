package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// SupportedExtensions lists the file types File can read. PDF and other
// binary formats must be converted to text before upload.
var SupportedExtensions = []string{".txt", ".text", ".md", ".markdown"}

// File reads the text content of the document at path.
func File(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supported(ext) {
		return "", domain.InvalidInputf("unsupported file type %q (supported: %s)", ext, strings.Join(SupportedExtensions, ", "))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrInvalidInput, path, err)
	}
	return Text(data)
}

// Text validates and normalises raw document bytes.
func Text(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.InvalidInputf("document is not valid UTF-8 text")
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text, nil
}

func supported(ext string) bool {
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
