package tokenizer

// HeuristicEstimator is a character-count-based token estimator.
// It distinguishes CJK and other characters for better accuracy
// compared to a naive len/4 approach.
//
// The estimate is monotone: a prefix of a text never costs more tokens
// than the text itself. The truncator relies on this.
type HeuristicEstimator struct {
	cjkCharsPerToken   float64
	otherCharsPerToken float64
}

// NewHeuristicEstimator creates the default estimator
// (CJK ~1.5 chars/token, everything else ~4 chars/token).
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{
		cjkCharsPerToken:   1.5,
		otherCharsPerToken: 4.0,
	}
}

// WithCharsPerToken overrides the ratio used for non-CJK characters.
func (e *HeuristicEstimator) WithCharsPerToken(ratio float64) *HeuristicEstimator {
	if ratio > 0 {
		e.otherCharsPerToken = ratio
	}
	return e
}

func (e *HeuristicEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	var cjkCount, otherCount int
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			otherCount++
		}
	}

	estimated := int(float64(cjkCount)/e.cjkCharsPerToken + float64(otherCount)/e.otherCharsPerToken)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *HeuristicEstimator) Name() string {
	return "heuristic"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
