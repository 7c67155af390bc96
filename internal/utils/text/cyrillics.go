package text

import "unicode"

// HasCyrillics checks if the given string contains any Cyrillic characters
func HasCyrillics(content string) bool {
	for _, r := range content {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// HasLatin checks if the given string contains any Latin letters
func HasLatin(content string) bool {
	for _, r := range content {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Lowercase Latin letters that render the same as a Cyrillic one.
var latinLookalikes = map[rune]rune{
	'a': 'а',
	'b': 'в',
	'c': 'с',
	'e': 'е',
	'h': 'н',
	'k': 'к',
	'm': 'м',
	'o': 'о',
	'p': 'р',
	't': 'т',
	'x': 'х',
	'y': 'у',
}

// FoldHomoglyphs rewrites Latin lookalikes to Cyrillic in a lowercase token
// that mixes both scripts. Single-script tokens are returned unchanged.
func FoldHomoglyphs(token string) string {
	if !HasCyrillics(token) || !HasLatin(token) {
		return token
	}
	out := []rune(token)
	for i, r := range out {
		if c, ok := latinLookalikes[r]; ok {
			out[i] = c
		}
	}
	return string(out)
}
