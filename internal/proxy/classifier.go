package proxy

import "strings"

// Classifier decides whether a chat message should be augmented with
// retrieved code context. Implementations must be safe for concurrent use.
type Classifier interface {
	Relevant(text string) bool
}

// DefaultTerms is the stock DCS World term list used when no custom terms
// are configured.
var DefaultTerms = []string{
	"dcs", "digital combat simulator", "eagle dynamics",
	"lua", "script", "mission editor", "waypoint", "aircraft",
	"helicopter", "trigger", "event", "flag", "moose", "miz",
	"mission", "map", "world", "spawn", "flight", "route",
}

// KeywordClassifier matches case-insensitively against a fixed term list.
type KeywordClassifier struct {
	terms []string
}

func NewKeywordClassifier(terms []string) *KeywordClassifier {
	if len(terms) == 0 {
		terms = DefaultTerms
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return &KeywordClassifier{terms: lowered}
}

func (k *KeywordClassifier) Relevant(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range k.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
