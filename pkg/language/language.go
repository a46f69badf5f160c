// Package language guesses which side of the English/Spanish pair a string
// belongs to.
//
// The classifier is a character and length heuristic, not a language
// identification model. Short or ambiguous strings are misclassified: a
// Spanish rendering without accents or inverted punctuation that is no longer
// than its source ("Te quiero" for "I love you") comes back as English.
package language

import (
	"strings"
)

// Language is a BCP 47 tag understood by speech output.
type Language string

const (
	EN Language = "en-US"
	ES Language = "es-ES"
)

// Prefix returns the primary subtag, e.g. "es" for es-ES.
func (l Language) Prefix() string {
	s := string(l)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return strings.ToLower(s[:i])
	}
	return strings.ToLower(s)
}

func (l Language) String() string { return string(l) }

const spanishMarks = "¿¡áéíóúñÁÉÍÓÚÑ"

// HasSpanishMarks reports whether text contains an accented vowel, ñ, or
// inverted punctuation.
func HasSpanishMarks(text string) bool {
	return strings.ContainsAny(text, spanishMarks)
}

// Detect classifies translated text. It returns ES when the text carries
// Spanish marks or has strictly more words than original; otherwise EN.
// Empty text is EN.
func Detect(translated, original string) Language {
	if strings.TrimSpace(translated) == "" {
		return EN
	}
	if HasSpanishMarks(translated) {
		return ES
	}
	if len(strings.Fields(translated)) > len(strings.Fields(original)) {
		return ES
	}
	return EN
}

// Guess classifies a lone string by its marks only.
func Guess(text string) Language {
	if HasSpanishMarks(text) {
		return ES
	}
	return EN
}
