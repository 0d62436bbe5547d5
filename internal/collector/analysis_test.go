package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyseAnswer(t *testing.T) {
	tests := []struct {
		name          string
		brand         string
		answer        string
		wantMentioned bool
		wantCited     bool
		wantPosition  int
	}{
		{
			name:          "brand in first sentence",
			brand:         "Acme",
			answer:        "Acme is a popular choice. Many teams use it daily.",
			wantMentioned: true,
			wantPosition:  1,
		},
		{
			name:          "brand in second sentence",
			brand:         "Acme",
			answer:        "There are several options. Acme is one of them.",
			wantMentioned: true,
			wantPosition:  2,
		},
		{
			name:          "case insensitive match",
			brand:         "Acme",
			answer:        "Most reviewers rank ACME highly.",
			wantMentioned: true,
			wantPosition:  1,
		},
		{
			name:          "no mention",
			brand:         "Acme",
			answer:        "The leading tools are Widgetly and Gadgeteer.",
			wantMentioned: false,
			wantPosition:  0,
		},
		{
			name:          "mention with link is a citation",
			brand:         "Acme",
			answer:        "Acme is widely used. See https://acme.example for details.",
			wantMentioned: true,
			wantCited:     true,
			wantPosition:  1,
		},
		{
			name:          "empty brand",
			brand:         "",
			answer:        "Acme is great.",
			wantMentioned: false,
		},
		{
			name:          "empty answer",
			brand:         "Acme",
			answer:        "",
			wantMentioned: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyseAnswer(tt.brand, tt.answer)
			assert.Equal(t, tt.wantMentioned, a.BrandMentioned)
			assert.Equal(t, tt.wantCited, a.BrandCited)
			assert.Equal(t, tt.wantPosition, a.Position)
		})
	}
}

func TestAnalyseAnswerSentiment(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		check  func(t *testing.T, sentiment float64)
	}{
		{
			name:   "positive language",
			answer: "Acme is an excellent and reliable platform.",
			check: func(t *testing.T, s float64) {
				assert.Greater(t, s, 0.1)
			},
		},
		{
			name:   "negative language",
			answer: "Acme is slow and buggy with many issues.",
			check: func(t *testing.T, s float64) {
				assert.Less(t, s, -0.1)
			},
		},
		{
			name:   "neutral language",
			answer: "Acme is a company founded in 2015.",
			check: func(t *testing.T, s float64) {
				assert.InDelta(t, 0, s, 0.0001)
			},
		},
		{
			name:   "competitor sentiment does not bleed in",
			answer: "Acme is a tool for teams. Widgetly is slow, buggy and has many issues.",
			check: func(t *testing.T, s float64) {
				assert.InDelta(t, 0, s, 0.0001)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyseAnswer("Acme", tt.answer)
			tt.check(t, a.Sentiment)
		})
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First one. Second one! Third one?\nFourth one")
	assert.Len(t, sentences, 4)
	assert.Equal(t, "First one.", sentences[0])
	assert.Equal(t, "Fourth one", sentences[3])
}
