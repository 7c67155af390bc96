package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: []string{}},
		{in: "Hello, World!", want: []string{"hello", "world"}},
		{in: "  КАЗИНО!!!  бонус ", want: []string{"казино", "бонус"}},
		{in: "café", want: []string{"cafe"}},
		{in: "ёж и йод", want: []string{"еж", "и", "иод"}},
		{in: "кaзинo", want: []string{"казино"}},
		{in: "casino", want: []string{"casino"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScriptDetection(t *testing.T) {
	t.Parallel()

	assert.True(t, HasCyrillics("привет"))
	assert.False(t, HasCyrillics("hello"))
	assert.True(t, HasLatin("привет world"))
	assert.False(t, HasLatin("привет 123"))
	assert.Equal(t, "hello", FoldHomoglyphs("hello"))
	assert.Equal(t, "ставки", FoldHomoglyphs("cтaвки"))
}
