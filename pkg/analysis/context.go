package analysis

// DetectFormality is formal only when formal markers outnumber informal ones.
func DetectFormality(text string) Formality {
	return detectFormality(newMatcher(text, MatchSubstring))
}

// DetectTopic returns the topic with the most keyword hits, or general when none match.
func DetectTopic(text string) Topic {
	return detectTopic(newMatcher(text, MatchSubstring))
}

// DetectUrgency maps urgency keyword hits to low (0), medium (1) or high (2+).
func DetectUrgency(text string) Urgency {
	return detectUrgency(newMatcher(text, MatchSubstring))
}

// AnalyzeContext classifies formality, topic and urgency of text.
func AnalyzeContext(text string) Context {
	return analyzeContext(newMatcher(text, MatchSubstring))
}

func analyzeContext(m *matcher) Context {
	return Context{
		Formality: detectFormality(m),
		Topic:     detectTopic(m),
		Urgency:   detectUrgency(m),
	}
}

func detectFormality(m *matcher) Formality {
	if m.count(formalKeywords) > m.count(informalKeywords) {
		return FormalityFormal
	}
	return FormalityInformal
}

func detectTopic(m *matcher) Topic {
	best, bestCount := TopicGeneral, 0
	for _, entry := range topicTable {
		if n := m.count(entry.keywords); n > bestCount {
			best, bestCount = entry.topic, n
		}
	}
	return best
}

func detectUrgency(m *matcher) Urgency {
	switch n := m.count(urgencyKeywords); {
	case n == 0:
		return UrgencyLow
	case n == 1:
		return UrgencyMedium
	default:
		return UrgencyHigh
	}
}

// DetectLanguage always reports English; there is no real language detection.
func DetectLanguage(string) string {
	return "en"
}
