package collector

import (
	"strings"
)

// Analysis is what we derive from a single provider answer for a brand
type Analysis struct {
	BrandMentioned bool
	BrandCited     bool
	Position       int // 1-based sentence index of the first mention, 0 if absent
	Sentiment      float64
}

// Small opinion lexicons for the sentiment score. Scores are normalised to
// [-1, 1] by word balance; this is a coarse signal for trend lines, not a
// classifier.
var positiveWords = map[string]struct{}{
	"best": {}, "great": {}, "excellent": {}, "leading": {}, "popular": {},
	"recommended": {}, "reliable": {}, "trusted": {}, "innovative": {},
	"top": {}, "strong": {}, "powerful": {}, "easy": {}, "fast": {},
	"good": {}, "effective": {}, "impressive": {}, "robust": {},
}

var negativeWords = map[string]struct{}{
	"worst": {}, "poor": {}, "bad": {}, "unreliable": {}, "slow": {},
	"expensive": {}, "difficult": {}, "limited": {}, "outdated": {},
	"weak": {}, "buggy": {}, "confusing": {}, "lacking": {}, "avoid": {},
	"complaints": {}, "issues": {},
}

// AnalyseAnswer inspects a provider answer for brand visibility signals
func AnalyseAnswer(brand, answer string) Analysis {
	var a Analysis
	if brand == "" || answer == "" {
		return a
	}

	lowerBrand := strings.ToLower(brand)
	sentences := splitSentences(answer)

	for i, sentence := range sentences {
		if strings.Contains(strings.ToLower(sentence), lowerBrand) {
			a.BrandMentioned = true
			a.Position = i + 1
			break
		}
	}

	if !a.BrandMentioned {
		return a
	}

	// A citation is a mention alongside a link or explicit source marker
	lowerAnswer := strings.ToLower(answer)
	a.BrandCited = strings.Contains(lowerAnswer, "http://") ||
		strings.Contains(lowerAnswer, "https://") ||
		strings.Contains(lowerAnswer, "source:")

	a.Sentiment = scoreSentiment(sentences, lowerBrand)
	return a
}

// scoreSentiment scores only the sentences that mention the brand, so
// opinions about competitors in the same answer do not bleed in
func scoreSentiment(sentences []string, lowerBrand string) float64 {
	var positive, negative int
	for _, sentence := range sentences {
		if !strings.Contains(strings.ToLower(sentence), lowerBrand) {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(sentence)) {
			word = strings.Trim(word, ".,;:!?()\"'")
			if _, ok := positiveWords[word]; ok {
				positive++
			}
			if _, ok := negativeWords[word]; ok {
				negative++
			}
		}
	}

	total := positive + negative
	if total == 0 {
		return 0
	}
	return float64(positive-negative) / float64(total)
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
