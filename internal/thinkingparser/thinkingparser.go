// Package thinkingparser implements the single-pass, stream-safe state
// machine that splits a raw assistant-content stream into "thinking" and
// regular text deltas based on <thinking>...</thinking> tags (spec.md §4.4
// "Thinking-parser state machine").
package thinkingparser

import "strings"

const (
	openTag  = "<thinking>"
	closeTag = "</thinking>"

	overflowCharLimit = 100000
	fastPathThreshold = 256
)

// Parser holds the state needed to process content chunk by chunk.
type Parser struct {
	inThinking   bool
	pending      string // bytes that might be a prefix of a tag, held across chunks
	thinkingLen  int
	lastWasQuote bool
}

// New creates a Parser in the "not thinking" state.
func New() *Parser {
	return &Parser{}
}

// Delta is one emitted fragment: either thinking content or regular text.
type Delta struct {
	Thinking bool
	Text     string
}

// Feed processes one chunk of raw content and returns zero or more deltas.
func (p *Parser) Feed(chunk string) []Delta {
	data := p.pending + chunk
	p.pending = ""

	var out []Delta
	i := 0
	for i < len(data) {
		if !p.inThinking {
			idx := strings.Index(data[i:], openTag)
			if idx < 0 {
				// Check if the tail could be a partial open tag.
				if holdLen := partialSuffixLen(data[i:], openTag); holdLen > 0 {
					if text := data[i : len(data)-holdLen]; text != "" {
						out = append(out, Delta{Text: text})
					}
					p.pending = data[len(data)-holdLen:]
					return out
				}
				out = append(out, Delta{Text: data[i:]})
				return out
			}

			tagStart := i + idx
			if tagStart > i {
				segment := data[i:tagStart]
				out = append(out, Delta{Text: segment})
			}

			if precededByQuote(data, tagStart) {
				out = append(out, Delta{Text: openTag})
				i = tagStart + len(openTag)
				continue
			}

			p.inThinking = true
			p.thinkingLen = 0
			i = tagStart + len(openTag)
			continue
		}

		// Inside a thinking block.
		rest := data[i:]
		if len(rest) > fastPathThreshold && !strings.Contains(rest, "</") {
			out = append(out, Delta{Thinking: true, Text: rest})
			p.thinkingLen += len(rest)
			if p.thinkingLen > overflowCharLimit {
				p.inThinking = false
				p.thinkingLen = 0
			}
			return out
		}

		idx := strings.Index(rest, closeTag)
		if idx < 0 {
			if holdLen := partialSuffixLen(rest, closeTag); holdLen > 0 {
				if text := rest[:len(rest)-holdLen]; text != "" {
					out = append(out, Delta{Thinking: true, Text: text})
					p.thinkingLen += len(text)
				}
				p.pending = rest[len(rest)-holdLen:]
				return out
			}
			out = append(out, Delta{Thinking: true, Text: rest})
			p.thinkingLen += len(rest)
			if p.thinkingLen > overflowCharLimit {
				p.inThinking = false
				p.thinkingLen = 0
			}
			return out
		}

		closeAt := i + idx
		// A close tag only counts as real when followed by "\n\n" (or EOF,
		// handled at Flush time).
		after := closeAt + len(closeTag)
		if after+2 <= len(data) && data[after:after+2] != "\n\n" {
			out = append(out, Delta{Thinking: true, Text: rest[:idx+len(closeTag)]})
			p.thinkingLen += idx + len(closeTag)
			i = closeAt + len(closeTag)
			continue
		}
		if after+2 > len(data) {
			// Not enough lookahead yet; hold from the close tag onward.
			if idx > 0 {
				out = append(out, Delta{Thinking: true, Text: rest[:idx]})
				p.thinkingLen += idx
			}
			p.pending = rest[idx:]
			return out
		}

		if idx > 0 {
			out = append(out, Delta{Thinking: true, Text: rest[:idx]})
		}
		p.inThinking = false
		p.thinkingLen = 0
		// The "\n\n" separator belongs to the tag, not the text that follows
		// it, and may run longer than two bytes; consume all of it here so it
		// never resurfaces as a leading delta (original thinking_parser.py:
		// after_tag.lstrip('\n')).
		skip := after
		for skip < len(data) && data[skip] == '\n' {
			skip++
		}
		i = skip
	}

	return out
}

// Flush drains any pending partial-tag bytes at stream end, treating a
// dangling close tag as real even without trailing "\n\n".
func (p *Parser) Flush() []Delta {
	if p.pending == "" {
		return nil
	}
	text := p.pending
	p.pending = ""

	if p.inThinking {
		if strings.HasPrefix(text, closeTag) {
			p.inThinking = false
			rest := strings.TrimLeft(text[len(closeTag):], "\n")
			if rest == "" {
				return nil
			}
			return []Delta{{Text: rest}}
		}
		return []Delta{{Thinking: true, Text: text}}
	}
	return []Delta{{Text: text}}
}

// InThinking reports whether the parser currently believes it is inside a
// thinking block (for diagnostics).
func (p *Parser) InThinking() bool {
	return p.inThinking
}

func precededByQuote(data string, tagStart int) bool {
	if tagStart == 0 {
		return false
	}
	switch data[tagStart-1] {
	case '"', '\'', '`', ',', '.', ':', ';':
		return true
	}
	return false
}

// partialSuffixLen returns the length of the longest strict prefix of tag
// that is a suffix of s, so the caller can hold those bytes for the next
// chunk rather than misfire on a tag split across a chunk boundary.
func partialSuffixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, tag[:l]) {
			return l
		}
	}
	return 0
}
