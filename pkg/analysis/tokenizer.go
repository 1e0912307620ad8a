package analysis

import (
	"regexp"
	"strings"
)

var (
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	sentenceSeparator = regexp.MustCompile(`[.!?]+`)
)

// Tokenize splits text into word tokens on runs of characters that are not
// letters, digits or underscore. Empty tokens are dropped.
func Tokenize(text string) []string {
	parts := nonWordPattern.Split(text, -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// ComputeMetrics measures text. CharacterCount is in UTF-16 code units.
func ComputeMetrics(text string) Metrics {
	return Metrics{
		WordCount:      len(Tokenize(text)),
		CharacterCount: utf16Length(text),
		SentenceCount:  countSentences(text),
	}
}

func countSentences(text string) int {
	count := 0
	for _, segment := range sentenceSeparator.Split(text, -1) {
		if strings.TrimSpace(segment) != "" {
			count++
		}
	}
	return count
}

func utf16Length(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
