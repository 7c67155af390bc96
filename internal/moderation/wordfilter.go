package moderation

import (
	"fmt"
	"os"
	"strings"

	"github.com/iamwavecut/modbot/internal/utils/text"
	"github.com/iamwavecut/modbot/resources"
	"gopkg.in/yaml.v2"
)

const embeddedBannedWords = "banned_words.yml"

type WordMatcher interface {
	Match(text string) (bool, []string)
}

type wordList struct {
	Words []string `yaml:"words"`
}

type bannedTerm struct {
	word       string
	normalized string
}

// WordFilter matches whole tokens, so a term never fires inside a longer
// word.
type WordFilter struct {
	terms []bannedTerm
}

func NewWordFilter(words []string) *WordFilter {
	f := &WordFilter{}
	seen := map[string]struct{}{}
	for _, w := range words {
		normalized := strings.Join(text.Tokenize(w), " ")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		f.terms = append(f.terms, bannedTerm{word: strings.TrimSpace(w), normalized: normalized})
	}
	return f
}

// LoadWordFilter reads a YAML word list from path, or the bundled list when
// path is empty.
func LoadWordFilter(path string) (*WordFilter, error) {
	var (
		content []byte
		err     error
	)
	if path == "" {
		content, err = resources.FS.ReadFile(embeddedBannedWords)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read banned words: %w", err)
	}

	var list wordList
	if err := yaml.Unmarshal(content, &list); err != nil {
		return nil, fmt.Errorf("parse banned words: %w", err)
	}
	return NewWordFilter(list.Words), nil
}

func (f *WordFilter) Len() int {
	return len(f.terms)
}

func (f *WordFilter) Match(content string) (bool, []string) {
	tokens := text.Tokenize(content)
	if len(tokens) == 0 {
		return false, nil
	}
	haystack := " " + strings.Join(tokens, " ") + " "

	var found []string
	for _, term := range f.terms {
		if strings.Contains(haystack, " "+term.normalized+" ") {
			found = append(found, term.word)
		}
	}
	return len(found) > 0, found
}
