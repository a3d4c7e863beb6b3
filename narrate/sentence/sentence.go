// Package sentence splits narration text into sentences and estimates
// speaking time. Splitting is heuristic: it understands common
// abbreviations, decimal numbers and ellipses, not full grammar.
package sentence

import (
	"strings"
	"time"
	"unicode"
)

// abbreviations are words a trailing period does not terminate.
var abbreviations = func() map[string]bool {
	words := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd",
		"u.s", "u.k", "u.n", "e.u",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
		m[w+"."] = true
	}
	return m
}()

// Split breaks plain text into trimmed sentences. Text without any
// terminator comes back as a single sentence; empty input yields nil.
func Split(text string) []string {
	runes := []rune(text)
	var out []string
	last := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')' || runes[end] == ']') {
			end++
		}
		if !endsSentence(runes, i) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[last:end])); s != "" {
			out = append(out, s)
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		last = end
		i = end - 1
	}

	if s := strings.TrimSpace(string(runes[last:])); s != "" {
		out = append(out, s)
	}
	return out
}

// endsSentence reports whether the terminator at pos closes a sentence.
func endsSentence(runes []rune, pos int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Ellipsis.
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
		// Decimal number.
		if pos > 0 && pos+1 < len(runes) && unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
		word := wordBefore(runes, pos)
		if abbreviations[word] || abbreviations[strings.TrimSuffix(word, ".")] {
			return false
		}
		// Multi-dot tokens like "u.s." or initials.
		if strings.Count(word, ".") > 1 {
			return false
		}
	}

	next := pos + 1
	for next < len(runes) && (runes[next] == '.' || runes[next] == '!' || runes[next] == '?' ||
		runes[next] == '"' || runes[next] == '\'' || runes[next] == ')' || runes[next] == ']') {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next < len(runes) && unicode.IsUpper(runes[next]) {
		return true
	}
	return punct == '!' || punct == '?'
}

// wordBefore returns the lowercased word ending at the terminator,
// terminator included.
func wordBefore(runes []rune, pos int) string {
	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	return strings.ToLower(string(runes[start+1 : pos+1]))
}

const baseWordsPerMinute = 150.0

// EstimateDuration predicts speaking time for text at a rate multiplier.
// Numbers, punctuation pauses and long words slow the estimate down.
func EstimateDuration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1.0
	}
	words := strings.Fields(text)
	count := len(words)
	if count == 0 {
		count = 1
	}

	complexity := 0.0
	longWords := 0
	for _, w := range words {
		if len(w) > 10 {
			longWords++
		}
		for _, r := range w {
			switch {
			case unicode.IsDigit(r):
				complexity += 0.005
			case r == ',' || r == ';' || r == ':' || r == '-' || r == '(' || r == ')':
				complexity += 0.01
			}
		}
	}
	complexity += float64(longWords) / float64(count+1) * 0.1
	if complexity > 0.5 {
		complexity = 0.5
	}

	wpm := baseWordsPerMinute * rate * (1.0 - complexity*0.2)
	seconds := float64(count) * 60.0 / wpm
	return time.Duration(seconds * float64(time.Second))
}
