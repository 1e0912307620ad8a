package analysis

import "strings"

// Keyword tables. Each keyword contributes at most one hit per text.
var (
	joyKeywords      = []string{"happy", "joy", "glad", "excited"}
	sadnessKeywords  = []string{"sad", "unhappy", "depressed", "miserable"}
	angerKeywords    = []string{"angry", "mad", "furious", "annoyed"}
	fearKeywords     = []string{"scared", "afraid", "fear", "worried"}
	surpriseKeywords = []string{"surprised", "shocked", "amazed", "wow"}

	formalKeywords   = []string{"please", "thank you", "regards", "sincerely", "kindly"}
	informalKeywords = []string{"hey", "lol", "gonna", "wanna", "yeah"}

	urgencyKeywords = []string{"urgent", "asap", "immediately", "emergency", "critical"}
)

type topicKeywords struct {
	topic    Topic
	keywords []string
}

// Scanned in order; a later topic wins only with a strictly higher count.
var topicTable = []topicKeywords{
	{TopicBusiness, []string{"meeting", "project", "deadline", "client"}},
	{TopicPersonal, []string{"family", "friend", "home", "weekend"}},
	{TopicTechnical, []string{"code", "bug", "server", "software"}},
}

// matcher answers keyword presence queries over one lowercased text.
type matcher struct {
	mode   MatchMode
	lower  string
	padded string
}

func newMatcher(text string, mode MatchMode) *matcher {
	m := &matcher{mode: mode, lower: strings.ToLower(text)}
	if mode == MatchWord {
		m.padded = " " + strings.Join(Tokenize(m.lower), " ") + " "
	}
	return m
}

func (m *matcher) contains(keyword string) bool {
	if m.mode == MatchWord {
		return strings.Contains(m.padded, " "+keyword+" ")
	}
	return strings.Contains(m.lower, keyword)
}

// count returns how many of keywords are present.
func (m *matcher) count(keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if m.contains(kw) {
			n++
		}
	}
	return n
}
