package urgency

import "testing"

func TestJudgeMatchesKeywords(t *testing.T) {
	d := NewKeywordDetector([]string{"emergency", "right away"})

	cases := []struct {
		text string
		want bool
	}{
		{"this is an EMERGENCY", true},
		{"I need someone right away please", true},
		{"just checking my invoice", false},
		{"", false},
	}
	for _, c := range cases {
		if got := d.Judge(c.text); got != c.want {
			t.Errorf("Judge(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestJudgeSubstringInsideWord(t *testing.T) {
	d := NewKeywordDetector([]string{"asap"})
	// Substring matching is intentional; "ASAP!" and "asap." must hit.
	if !d.Judge("please fix it ASAP!") {
		t.Error("expected match with punctuation")
	}
}

func TestEmptyLexiconNeverMatches(t *testing.T) {
	d := NewKeywordDetector(nil)
	if d.Judge("emergency") {
		t.Error("empty lexicon should never match")
	}
}

func TestBlankKeywordsDropped(t *testing.T) {
	d := NewKeywordDetector([]string{"", "  ", "urgent"})
	if d.Judge("hello there") {
		t.Error("blank keywords must not match everything")
	}
	if !d.Judge("it's urgent") {
		t.Error("real keyword should still match")
	}
}
