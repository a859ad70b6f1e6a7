package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.MD")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff# Title\r\nbody\r\n"), 0o644))

	text, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody\n", text)
}

func TestFileRejects(t *testing.T) {
	dir := t.TempDir()

	pdf := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))
	_, err := File(pdf)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = File(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	bin := filepath.Join(dir, "binary.txt")
	require.NoError(t, os.WriteFile(bin, []byte{0xff, 0xfe, 0xfd}, 0o644))
	_, err = File(bin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
