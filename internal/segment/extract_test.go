package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

func TestExtract_TextPages(t *testing.T) {
	pages, err := Extract(context.Background(), []byte("first page\fsecond page\f"), "notes.txt")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, Page{Number: 1, Text: "first page"}, pages[0])
	assert.Equal(t, Page{Number: 2, Text: "second page"}, pages[1])
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		filename string
		want     error
	}{
		{"unsupported extension", "hello", "image.png", library.ErrUnsupportedFormat},
		{"pdf extension without pdf content", "hello", "fake.pdf", library.ErrCorruptDocument},
		{"truncated pdf", "%PDF-1.4\n1 0 obj\n<<", "broken.pdf", library.ErrCorruptDocument},
		{"invalid utf8", "\xff\xfe\xfd", "bad.txt", library.ErrCorruptDocument},
		{"blank text", " \n\f\t ", "blank.md", library.ErrNoExtractableText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(context.Background(), []byte(tt.data), tt.filename)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ierr *library.IngestionError
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, tt.filename, ierr.Filename)
		})
	}
}

func TestMetaInt(t *testing.T) {
	for _, v := range []any{3, int64(3), float64(3)} {
		got, ok := metaInt(map[string]any{"page": v}, "page")
		assert.True(t, ok)
		assert.Equal(t, 3, got)
	}
	_, ok := metaInt(map[string]any{"page": "3"}, "page")
	assert.False(t, ok)
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"sutta.pdf", "NOTES.MD", "dhammapada.txt", "intro.markdown"} {
		assert.True(t, Supported(name), name)
	}
	for _, name := range []string{"cover.jpg", "archive.pdf.zip", "README"} {
		assert.False(t, Supported(name), name)
	}
}
