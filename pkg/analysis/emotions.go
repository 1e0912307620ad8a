package analysis

// AnalyzeEmotions counts the emotion keywords present in text using substring matching.
func AnalyzeEmotions(text string) Emotions {
	return analyzeEmotions(newMatcher(text, MatchSubstring))
}

func analyzeEmotions(m *matcher) Emotions {
	return Emotions{
		Joy:      m.count(joyKeywords),
		Sadness:  m.count(sadnessKeywords),
		Anger:    m.count(angerKeywords),
		Fear:     m.count(fearKeywords),
		Surprise: m.count(surpriseKeywords),
	}
}
