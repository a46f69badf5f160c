package tts

import (
	"strings"

	"github.com/harunnryd/parla/pkg/language"
)

// Voice is one vendor voice and the language tag it speaks.
type Voice struct {
	ID       string `mapstructure:"id"`
	Language string `mapstructure:"language"`
}

// SelectVoice picks a voice for lang: an exact tag match first, then any
// voice sharing the language prefix ("es-MX" for "es-ES"), then fallback.
func SelectVoice(voices []Voice, lang language.Language, fallback string) string {
	tag := strings.ToLower(string(lang))
	for _, v := range voices {
		if strings.ToLower(v.Language) == tag {
			return v.ID
		}
	}
	prefix := strings.ToLower(lang.Prefix()) + "-"
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Language), prefix) {
			return v.ID
		}
	}
	return fallback
}
