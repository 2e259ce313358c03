// Package urgency flags caller utterances that need priority human
// attention.
package urgency

import "strings"

// Detector decides whether a caller utterance signals urgency. The keyword
// implementation can be swapped for a classifier without changing the
// session's contract.
type Detector interface {
	Judge(text string) bool
}

// KeywordDetector matches a configurable lexicon with case-insensitive
// substring checks.
type KeywordDetector struct {
	keywords []string
}

// NewKeywordDetector lowercases the lexicon once up front. Empty entries
// are dropped so a sloppy config can't flag everything.
func NewKeywordDetector(keywords []string) *KeywordDetector {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordDetector{keywords: lowered}
}

func (d *KeywordDetector) Judge(text string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, k := range d.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
