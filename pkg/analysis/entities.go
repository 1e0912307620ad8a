package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractEntities returns capitalised words in order of first appearance.
// Surrounding punctuation is trimmed and duplicates are dropped.
func ExtractEntities(text string) []string {
	entities := []string{}
	seen := make(map[string]struct{})

	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsUpper(first) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		entities = append(entities, word)
	}
	return entities
}
