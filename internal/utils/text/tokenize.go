package text

import (
	"regexp"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Tokenize lowercases text, strips punctuation and combining marks and
// splits it on whitespace. Mixed-script tokens are folded to Cyrillic.
func Tokenize(content string) []string {
	// a transformer is stateful, build one per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(content, " "))
	normalized, _, err := transform.String(normFunc, bare)
	if err != nil {
		log.WithError(err).Warn("unicode normalization error")
		normalized = bare
	}
	tokens := strings.Fields(normalized)
	for i, tok := range tokens {
		tokens[i] = FoldHomoglyphs(tok)
	}
	return tokens
}
