package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_PlainText(t *testing.T) {
	text, err := Text("notes.txt", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestText_Markdown(t *testing.T) {
	text, err := Text("README.md", []byte("# Title\n\nBody text."))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody text.", text)
}

func TestText_ExtensionCaseInsensitive(t *testing.T) {
	text, err := Text("NOTES.TXT", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestText_InvalidUTF8(t *testing.T) {
	_, err := Text("notes.txt", []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestText_UnsupportedType(t *testing.T) {
	_, err := Text("image.png", []byte("not text"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), ".png")
}

func TestText_NoExtension(t *testing.T) {
	_, err := Text("Makefile", []byte("all:"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestText_CorruptPDF(t *testing.T) {
	_, err := Text("report.pdf", []byte("definitely not a pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.Contains(t, exts, ".txt")
	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".pdf")
}
