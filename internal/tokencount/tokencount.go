// Package tokencount estimates token counts for text when the upstream does
// not report them (spec.md §4.5). It prefers an exact BPE count via
// tiktoken-go when the resolved model has a known encoding, and falls back
// to a CJK-aware heuristic otherwise.
package tokencount

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingCache   = map[string]*tiktoken.Tiktoken{}
	encodingCacheMu sync.Mutex
)

// Count estimates the number of tokens in text. model is used only to pick a
// tiktoken encoding when one exists; the upstream's own proprietary models
// never match one, so this is purely a best-effort enrichment over the
// heuristic below.
func Count(text string, model string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		toks := enc.Encode(text, nil, nil)
		if len(toks) > 0 {
			return len(toks)
		}
	}
	return Estimate(text)
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if model == "" {
		return nil
	}
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		encodingCache[model] = nil
		return nil
	}
	encodingCache[model] = enc
	return enc
}

// Estimate implements the spec's CJK-aware heuristic (§4.5):
//   - CJK characters count ~1.2 tokens, plus 0.5 per non-CJK char in the
//     same whitespace-delimited segment.
//   - Non-CJK words count 1 token if len<=4, else ceil(len/3.5).
//   - Each whitespace character counts 0.5 tokens.
//   - Minimum 1 token for any non-empty input.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	var total float64
	var cjkChars, otherChars int
	whitespaceCount := 0

	segments := strings.Fields(text)
	if len(segments) == 0 {
		// Entirely whitespace, still non-empty.
		return 1
	}

	for _, r := range text {
		if unicode.IsSpace(r) {
			whitespaceCount++
		}
	}

	for _, word := range segments {
		cjkChars = 0
		otherChars = 0
		for _, r := range word {
			if isCJK(r) {
				cjkChars++
			} else {
				otherChars++
			}
		}

		if cjkChars > 0 {
			total += float64(cjkChars)*1.2 + float64(otherChars)*0.5
			continue
		}

		wlen := len([]rune(word))
		if wlen <= 4 {
			total += 1
		} else {
			total += math.Ceil(float64(wlen) / 3.5)
		}
	}

	total += float64(whitespaceCount) * 0.5

	tokens := int(math.Round(total))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	case r >= 0xF900 && r <= 0xFAFF: // CJK compatibility ideographs
		return true
	}
	return false
}
