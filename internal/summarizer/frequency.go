// Package summarizer produces short extractive summaries of ingested
// documents for listings and the TUI.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const DefaultMaxSentences = 3

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
	pageMarker      = regexp.MustCompile(`\[Page \d+\]\s*`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Frequency ranks sentences by the normalised frequency of their non-stopword
// tokens and keeps the best ones in document order.
type Frequency struct {
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

func NewFrequency() *Frequency {
	return &Frequency{
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Summarize returns up to maxSentences sentences of text. Page markers are
// dropped and whitespace collapsed first. Blank text summarises to "".
func (s *Frequency) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(pageMarker.ReplaceAllString(text, ""), " "))
	if text == "" {
		return "", nil
	}
	var sentences []string
	for _, sent := range sentencePattern.FindAllString(text, -1) {
		if sent = strings.TrimSpace(sent); sent != "" {
			sentences = append(sentences, sent)
		}
	}
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " "), nil
	}

	tokenized := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, sent := range sentences {
		tokenized[i] = s.tokens(sent)
		for _, tok := range tokenized[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, toks := range tokenized {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		// dampen the advantage of long sentences
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

// tokens returns lower-cased word tokens with stopwords removed.
func (s *Frequency) tokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
