// Package voicetext shapes LLM and agent text for speech synthesis: sentence
// boundary detection, markdown removal, and the voice-friendly length cap.
//
// Boundary detection is deliberately simple — a terminator followed by
// whitespace — with just enough smarts to not split on common abbreviations
// ("Dr. Smith") or decimals ("3.14"). Anything fancier belongs in the TTS
// provider, which gets whole sentences anyway.
package voicetext

import (
	"regexp"
	"strings"
)

// abbreviations lists lowercase tokens that end with a period without ending
// a sentence. Matched against the word immediately before a '.' boundary.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {},
	"inc": {}, "ltd": {}, "co": {}, "dept": {}, "approx": {},
	"est": {}, "fig": {}, "e.g": {}, "i.e": {},
}

// FirstBoundary returns the index of the first sentence terminator ('.', '!',
// or '?') that is immediately followed by whitespace and does not belong to a
// known abbreviation or a decimal number. Returns -1 if no boundary exists.
//
// End-of-string is not a boundary: while text is still streaming in, a
// trailing terminator may be an abbreviation whose continuation has not
// arrived yet. Callers flush the remainder when the stream ends.
func FirstBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '!', '?':
			if isSpace(s[i+1]) {
				return i
			}
		case '.':
			if !isSpace(s[i+1]) {
				continue
			}
			if isAbbreviation(s, i) {
				continue
			}
			return i
		}
	}
	return -1
}

// Split breaks text into sentences at the same boundaries FirstBoundary
// recognises. The trailing fragment, if any, becomes the final sentence.
// Sentences are whitespace-trimmed; empty fragments are dropped.
func Split(text string) []string {
	var out []string
	rest := text
	for {
		idx := FirstBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

var (
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	inlineCode  = regexp.MustCompile("`([^`]*)`")
	linkRe      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	bulletRe    = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)
	emphasisRe  = regexp.MustCompile(`(\*\*|__|\*|_)`)
	spaceRe     = regexp.MustCompile(`[ \t]+`)
)

// StripMarkdown removes the markdown artefacts LLMs habitually emit — code
// fences, inline code, links, headings, list bullets, emphasis markers — and
// collapses the leftover whitespace. The result reads as plain prose suitable
// for a TTS voice.
func StripMarkdown(text string) string {
	s := codeFenceRe.ReplaceAllString(text, " ")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// VoiceFriendly strips markdown and clips text to at most maxSentences
// sentences or maxWords words, whichever limit is hit first. Applied to
// complete responses known up front (the agent path); streamed responses are
// shaped by the model prompt instead. Non-positive limits disable the
// corresponding cap.
func VoiceFriendly(text string, maxSentences, maxWords int) string {
	plain := StripMarkdown(text)
	if plain == "" {
		return ""
	}

	sentences := Split(plain)
	if maxSentences > 0 && len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}

	if maxWords <= 0 {
		return strings.Join(sentences, " ")
	}

	var kept []string
	words := 0
	for _, s := range sentences {
		n := WordCount(s)
		if words+n > maxWords {
			// The first sentence alone may bust the word budget; hard-cut
			// it rather than returning nothing.
			if len(kept) == 0 {
				fields := strings.Fields(s)
				kept = append(kept, strings.Join(fields[:maxWords], " "))
			}
			break
		}
		kept = append(kept, s)
		words += n
	}
	return strings.Join(kept, " ")
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\n', '\r', '\t':
		return true
	}
	return false
}

// isAbbreviation reports whether the '.' at index i terminates a known
// abbreviation rather than a sentence.
func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && !isSpace(s[start-1]) {
		start--
	}
	word := strings.ToLower(strings.Trim(s[start:i], "."))
	_, ok := abbreviations[word]
	return ok
}
