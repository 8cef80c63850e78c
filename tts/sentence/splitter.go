// Package sentence provides sentence and paragraph extraction for speech
// playback.
package sentence

import (
	"regexp"
	"strings"
	"time"
)

// Mode selects how source text is split into chunks.
type Mode int

const (
	// ModeSentence splits at sentence boundaries.
	ModeSentence Mode = iota
	// ModeParagraph splits at blank lines.
	ModeParagraph
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSentence:
		return "sentence"
	case ModeParagraph:
		return "paragraph"
	default:
		return "unknown"
	}
}

// wordsPerMinute is the assumed speaking rate for duration estimates.
const wordsPerMinute = 150

// Splitter extracts speakable chunks from plain text.
type Splitter struct {
	sentenceEndRegex *regexp.Regexp
	paragraphRegex   *regexp.Regexp
	minLength        int

	// Common abbreviations that don't end sentences.
	abbreviations map[string]bool
}

// NewSplitter creates a splitter with the default boundary rules.
func NewSplitter() *Splitter {
	return &Splitter{
		// Sentence ending pattern, handles combinations like ?! and
		// trailing quotes or brackets.
		sentenceEndRegex: regexp.MustCompile(`[.!?]+["')\]]*(\s+|$)`),
		paragraphRegex:   regexp.MustCompile(`\n\s*\n`),
		minLength:        2,
		abbreviations:    makeAbbreviationMap(),
	}
}

// Split breaks text into chunks according to mode. Whitespace-only
// fragments are dropped; chunk order follows text order.
func (s *Splitter) Split(text string, mode Mode) []string {
	if mode == ModeParagraph {
		return s.splitParagraphs(text)
	}
	return s.splitSentences(text)
}

func (s *Splitter) splitParagraphs(text string) []string {
	parts := s.paragraphRegex.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= s.minLength {
			out = append(out, p)
		}
	}
	return out
}

func (s *Splitter) splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for _, loc := range s.sentenceEndRegex.FindAllStringIndex(text, -1) {
		candidate := strings.TrimSpace(text[start:loc[1]])
		if s.endsWithAbbreviation(candidate) {
			continue
		}
		if len(candidate) >= s.minLength {
			out = append(out, candidate)
		}
		start = loc[1]
	}

	// Trailing text without terminal punctuation still gets spoken.
	if rest := strings.TrimSpace(text[start:]); len(rest) >= s.minLength {
		out = append(out, rest)
	}
	return out
}

// SplitLimit breaks text into chunks no longer than limit characters,
// respecting sentence boundaries where possible. A single sentence longer
// than the limit becomes its own oversized chunk rather than being cut
// mid-word.
func (s *Splitter) SplitLimit(text string, limit int) []string {
	sentences := s.splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []string
	var cur strings.Builder
	for _, sent := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(sent) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sent)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// endsWithAbbreviation reports whether the fragment ends in a known
// abbreviation, meaning the period is not a sentence boundary.
func (s *Splitter) endsWithAbbreviation(fragment string) bool {
	fragment = strings.TrimRight(fragment, `"')]`)
	if !strings.HasSuffix(fragment, ".") {
		return false
	}
	words := strings.Fields(fragment)
	if len(words) == 0 {
		return false
	}
	last := strings.ToLower(strings.TrimSuffix(words[len(words)-1], "."))
	return s.abbreviations[last]
}

// EstimateDuration estimates the speaking duration for text at a typical
// reading rate. Used as a fallback when decoded audio is unavailable.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words) / wordsPerMinute * float64(time.Minute))
}

func makeAbbreviationMap() map[string]bool {
	list := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"i.e", "e.g", "etc", "vs", "inc", "ltd", "co", "corp",
		"a.m", "p.m",
		"st", "ave", "blvd", "dept", "est", "ft",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"no", "vol", "pp", "ed",
		"u.s", "u.k", "e.u",
	}
	m := make(map[string]bool, len(list))
	for _, a := range list {
		m[a] = true
	}
	return m
}
