// Package lexicon loads word polarity lexicons in AFINN format.
package lexicon

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"strconv"
	"strings"
)

//go:embed afinn.tsv
var afinnData string

// Lexicon maps lowercase words to an integer valence. It is immutable once built.
type Lexicon struct {
	weights map[string]int
}

// Default returns the embedded English AFINN lexicon.
func Default() *Lexicon {
	lex, err := Parse(strings.NewReader(afinnData))
	if err != nil {
		panic(fmt.Sprintf("lexicon: embedded afinn.tsv is invalid: %v", err))
	}
	return lex
}

// Parse reads "word<TAB>weight" lines. Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) (*Lexicon, error) {
	weights := make(map[string]int)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected word and weight separated by a tab", line)
		}

		weight, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid weight %q: %w", line, fields[1], err)
		}
		weights[strings.ToLower(strings.TrimSpace(fields[0]))] = weight
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return &Lexicon{weights: weights}, nil
}

// FromMap builds a lexicon from an in-memory table.
func FromMap(m map[string]int) *Lexicon {
	weights := make(map[string]int, len(m))
	for k, v := range m {
		weights[strings.ToLower(k)] = v
	}
	return &Lexicon{weights: weights}
}

// Weight returns the valence of word, matched case-insensitively.
func (l *Lexicon) Weight(word string) (int, bool) {
	w, ok := l.weights[strings.ToLower(word)]
	return w, ok
}

// Len returns the number of entries.
func (l *Lexicon) Len() int {
	return len(l.weights)
}
