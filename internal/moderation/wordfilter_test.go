package moderation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordFilterMatch(t *testing.T) {
	t.Parallel()

	f := NewWordFilter([]string{"казино", "ставки на спорт", "Casino", "", "  "})
	require.Equal(t, 3, f.Len())

	tests := []struct {
		name  string
		text  string
		want  bool
		words []string
	}{
		{name: "exact", text: "лучшее казино тут", want: true, words: []string{"казино"}},
		{name: "punctuation and case", text: "КАЗИНО!!!", want: true, words: []string{"казино"}},
		{name: "phrase", text: "Ставки, на спорт без риска", want: true, words: []string{"ставки на спорт"}},
		{name: "homoglyphs", text: "кaзинo онлайн", want: true, words: []string{"казино"}},
		{name: "latin", text: "best casino", want: true, words: []string{"Casino"}},
		{name: "inside another word", text: "казиноман", want: false},
		{name: "partial phrase", text: "ставки сделаны", want: false},
		{name: "clean", text: "добрый вечер", want: false},
		{name: "empty", text: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, words := f.Match(tt.text)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.words, words)
		})
	}
}

func TestLoadWordFilter(t *testing.T) {
	t.Parallel()

	embedded, err := LoadWordFilter("")
	require.NoError(t, err)
	require.Positive(t, embedded.Len())
	ok, _ := embedded.Match("заходи в казино")
	require.True(t, ok)

	path := filepath.Join(t.TempDir(), "words.yml")
	require.NoError(t, os.WriteFile(path, []byte("words:\n  - spam\n  - spam\n  - scam\n"), 0o600))
	custom, err := LoadWordFilter(path)
	require.NoError(t, err)
	require.Equal(t, 2, custom.Len())

	_, err = LoadWordFilter(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
