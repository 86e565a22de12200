// Package processors converts token sequences before and after a model sees
// them: character splitting, untruecasing and German morphology rules.
package processors

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PreprocessCharBased splits a sentence into its characters
func PreprocessCharBased(sentence string) []string {
	out := make([]string, 0, utf8.RuneCountInString(sentence))
	for _, r := range sentence {
		out = append(out, string(r))
	}
	return out
}

// PostprocessCharBased joins every character sequence back into a single token
func PostprocessCharBased(sequences [][]string) [][]string {
	out := make([][]string, len(sequences))
	for i, seq := range sequences {
		out[i] = []string{strings.Join(seq, "")}
	}
	return out
}

// Capitalize upper-cases the first letter of word and lower-cases the rest
func Capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if size == 0 {
		return word
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(word[size:])
}

// Untruecase capitalizes the first token of a sentence
func Untruecase(sentence []string) []string {
	if len(sentence) == 0 {
		return []string{}
	}
	out := make([]string, len(sentence))
	copy(out, sentence)
	out[0] = Capitalize(out[0])
	return out
}
