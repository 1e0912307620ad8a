package analysis

import (
	"strings"

	"github.com/jscharber/convosense/pkg/analysis/lexicon"
)

// ScoreSentiment sums lexicon weights over the tokens of text.
// Positive and Negative list the matched lowercase tokens in order of occurrence,
// duplicates kept.
func ScoreSentiment(lex *lexicon.Lexicon, text string) Sentiment {
	tokens := Tokenize(strings.ToLower(text))
	s := Sentiment{
		Positive: []string{},
		Negative: []string{},
	}

	for _, token := range tokens {
		weight, ok := lex.Weight(token)
		if !ok {
			continue
		}
		s.Score += weight
		switch {
		case weight > 0:
			s.Positive = append(s.Positive, token)
		case weight < 0:
			s.Negative = append(s.Negative, token)
		}
	}

	if len(tokens) > 0 {
		s.Comparative = float64(s.Score) / float64(len(tokens))
	}
	return s
}
