package analysis

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// ScrubberOption is a functional option for configuring a [TermScrubber].
type ScrubberOption func(*TermScrubber)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically-matched term to count as spoken. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ScrubberOption {
	return func(s *TermScrubber) { s.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure
// string-similarity fallback. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ScrubberOption {
	return func(s *TermScrubber) { s.fuzzyThreshold = threshold }
}

// TermScrubber removes reported missing terminologies that the candidate
// plausibly said. The judge sees a speech transcription, so a spoken term
// often survives only as a mis-transcription; the scrubber credits the
// candidate when a term matches the transcript phonetically.
//
// Matching runs in two stages: Double Metaphone code overlap gates a
// Jaro-Winkler ranking at the phonetic threshold; without code overlap a
// higher pure Jaro-Winkler threshold applies. Read-only after construction.
type TermScrubber struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewTermScrubber returns a scrubber with the supplied options.
func NewTermScrubber(opts ...ScrubberOption) *TermScrubber {
	s := &TermScrubber{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scrub filters every item's missing_terminologies in place, dropping
// terms found in the candidate's answers.
func (s *TermScrubber) Scrub(report *Report, candidateTurns []string) {
	if report == nil || len(candidateTurns) == 0 {
		return
	}

	answerTokens := tokenize(strings.Join(candidateTurns, " "))
	if len(answerTokens) == 0 {
		return
	}
	answerCodes := codesForTokens(answerTokens)

	for i := range report.Items {
		item := &report.Items[i]
		kept := item.MissingTerminologies[:0]
		for _, term := range item.MissingTerminologies {
			if !s.spoken(term, answerTokens, answerCodes) {
				kept = append(kept, term)
			}
		}
		item.MissingTerminologies = kept
	}
}

// spoken reports whether the term plausibly occurs in the answers.
func (s *TermScrubber) spoken(term string, answerTokens []string, answerCodes map[string]struct{}) bool {
	termLower := strings.ToLower(strings.TrimSpace(term))
	if termLower == "" {
		return false
	}

	// Literal mention short-circuits the phonetic machinery.
	if strings.Contains(strings.ToLower(strings.Join(answerTokens, " ")), termLower) {
		return true
	}

	termTokens := strings.Fields(termLower)
	termCodes := codesForTokens(termTokens)
	phonetic := codesOverlap(termCodes, answerCodes)

	score := bestWindowJWScore(termTokens, answerTokens)
	if phonetic {
		return score >= s.phoneticThreshold
	}
	return score >= s.fuzzyThreshold
}

// tokenize lowercases and splits on non-letter/digit runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isLower && !isDigit
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
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

// bestWindowJWScore slides a window of the term's token length over the
// answer tokens and returns the highest Jaro-Winkler score between the
// term and any window, also considering space-stripped and single-token
// comparisons for multi-word terms.
func bestWindowJWScore(termTokens, answerTokens []string) float64 {
	termFull := strings.Join(termTokens, " ")
	termConcat := strings.Join(termTokens, "")

	width := len(termTokens)
	if width == 0 || width > len(answerTokens) {
		width = 1
	}

	var best float64
	for i := 0; i+width <= len(answerTokens); i++ {
		window := answerTokens[i : i+width]
		if s := matchr.JaroWinkler(termFull, strings.Join(window, " "), false); s > best {
			best = s
		}
		if len(termTokens) > 1 || width > 1 {
			if s := matchr.JaroWinkler(termConcat, strings.Join(window, ""), false); s > best {
				best = s
			}
		}
	}

	// Best pairwise token score, for one spoken word matching one term word.
	for _, tt := range termTokens {
		for _, at := range answerTokens {
			if s := matchr.JaroWinkler(tt, at, false); s > best {
				best = s
			}
		}
	}

	return best
}
