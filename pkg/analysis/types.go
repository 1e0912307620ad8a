package analysis

import (
	"fmt"
	"strings"
	"time"
)

// Metrics holds the size measurements of a text.
type Metrics struct {
	WordCount      int `json:"wordCount" bson:"wordCount"`
	CharacterCount int `json:"characterCount" bson:"characterCount"`
	SentenceCount  int `json:"sentenceCount" bson:"sentenceCount"`
}

// Sentiment is the lexicon polarity of a text.
type Sentiment struct {
	Score       int      `json:"score" bson:"score"`
	Comparative float64  `json:"comparative" bson:"comparative"`
	Positive    []string `json:"positive" bson:"positive"`
	Negative    []string `json:"negative" bson:"negative"`
}

// Emotions counts keyword hits per emotion. All five fields are always present.
type Emotions struct {
	Joy      int `json:"joy" bson:"joy"`
	Sadness  int `json:"sadness" bson:"sadness"`
	Anger    int `json:"anger" bson:"anger"`
	Fear     int `json:"fear" bson:"fear"`
	Surprise int `json:"surprise" bson:"surprise"`
}

// Formality labels
type Formality string

const (
	FormalityFormal   Formality = "formal"
	FormalityInformal Formality = "informal"
)

// Topic labels
type Topic string

const (
	TopicBusiness  Topic = "business"
	TopicPersonal  Topic = "personal"
	TopicTechnical Topic = "technical"
	TopicGeneral   Topic = "general"
)

// Urgency labels
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Context is the conversational classification of a text.
type Context struct {
	Formality Formality `json:"formality" bson:"formality"`
	Topic     Topic     `json:"topic" bson:"topic"`
	Urgency   Urgency   `json:"urgency" bson:"urgency"`
}

// Result is the output of AnalyzeText.
type Result struct {
	Metrics   Metrics   `json:"metrics"`
	Sentiment Sentiment `json:"sentiment"`
	Emotions  Emotions  `json:"emotions"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// Full bundles everything the pipeline derives from a text, used when a
// conversation record is built.
type Full struct {
	Result
	Context  Context  `json:"context"`
	Entities []string `json:"entities"`
}

// MatchMode selects how keywords are matched against text.
type MatchMode string

const (
	// MatchSubstring counts a keyword when it appears anywhere in the lowercased text,
	// including inside longer words ("sad" in "sadly").
	MatchSubstring MatchMode = "substring"
	// MatchWord counts a keyword only when it appears as whole tokens.
	MatchWord MatchMode = "word"
)

// ParseMatchMode parses a match mode, defaulting to MatchSubstring when empty.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchWord:
		return MatchWord, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

// Config configures an Analyzer.
type Config struct {
	MatchMode MatchMode `yaml:"match_mode" json:"match_mode" env:"ANALYSIS_MATCH_MODE" default:"substring"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{MatchMode: MatchSubstring}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseMatchMode(string(c.MatchMode)); err != nil {
		return err
	}
	return nil
}
