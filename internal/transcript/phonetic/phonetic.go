// Package phonetic scores how closely a learner's transcript follows the
// expected line text.
//
// Transcription of recited Sanskrit is noisy: backends romanise differently,
// drop diacritics and split or merge words. Both texts are therefore folded
// to plain lower-case ASCII before comparison, and words are compared with
// Double Metaphone codes and Jaro-Winkler similarity rather than exact
// equality.
//
// Each expected word is aligned, in order, to the best transcript word
// still available. A pair counts as a match when the words share a
// phonetic code and their similarity reaches the phonetic threshold, or
// when the similarity alone reaches the higher fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// matching word pair. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for a pair without a
// shared phonetic code. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher compares transcripts with reference text. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// WordMatch is the alignment of one expected word.
type WordMatch struct {
	Expected string  `json:"expected"`
	Heard    string  `json:"heard,omitempty"`
	Score    float64 `json:"score"`
	Matched  bool    `json:"matched"`
}

// Result is the similarity of a transcript to a line.
type Result struct {
	// Similarity in [0, 1]: the mean word score, blended with whole-line
	// similarity to absorb word-split differences.
	Similarity float64     `json:"similarity"`
	Matched    int         `json:"matched"`
	Total      int         `json:"total"`
	Words      []WordMatch `json:"words"`
}

// Score compares transcript with expected. An empty transcript scores 0.
func (m *Matcher) Score(transcript, expected string) Result {
	want := strings.Fields(Fold(expected))
	heard := strings.Fields(Fold(transcript))
	res := Result{Total: len(want), Words: make([]WordMatch, len(want))}
	if len(want) == 0 || len(heard) == 0 {
		for i, w := range want {
			res.Words[i] = WordMatch{Expected: w}
		}
		return res
	}

	next := 0
	var sum float64
	for i, w := range want {
		wm := WordMatch{Expected: w}
		best, bestAt := 0.0, -1
		for j := next; j < len(heard); j++ {
			s, ok := m.pair(w, heard[j])
			if ok && s > best {
				best, bestAt = s, j
			}
		}
		if bestAt >= 0 {
			wm.Heard, wm.Score, wm.Matched = heard[bestAt], best, true
			next = bestAt + 1
			res.Matched++
			sum += best
		}
		res.Words[i] = wm
	}

	words := sum / float64(len(want))
	line := matchr.JaroWinkler(strings.Join(heard, ""), strings.Join(want, ""), true)
	res.Similarity = 0.7*words + 0.3*line
	return res
}

// Match returns the candidate most similar to word, following the same
// pair rule as [Matcher.Score]. When nothing matches, word is returned
// unchanged with confidence 0.
func (m *Matcher) Match(word string, candidates []string) (best string, confidence float64, matched bool) {
	w := Fold(word)
	if w == "" {
		return word, 0, false
	}
	for _, c := range candidates {
		if s, ok := m.pair(w, Fold(c)); ok && s > confidence {
			best, confidence, matched = c, s, true
		}
	}
	if !matched {
		return word, 0, false
	}
	return best, confidence, true
}

// pair scores two folded strings, which may hold several words.
func (m *Matcher) pair(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}
	at, bt := strings.Fields(a), strings.Fields(b)
	score := bestJWScore(at, bt, a, b)
	if codesOverlap(codesForTokens(at), codesForTokens(bt)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// fold strips combining marks after canonical decomposition, turning IAST
// letters such as ā, ṇ and ś into their base letters.
var fold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases s, removes diacritics and replaces everything that is
// not a letter or digit with a space.
func Fold(s string) string {
	out, _, err := transform.String(fold, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		}
		return ' '
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest of the full-string, space-stripped and best
// pairwise token similarity.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
