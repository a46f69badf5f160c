package tts

import (
	"testing"

	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/language"
)

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{ID: "mx", Language: "es-MX"},
		{ID: "us", Language: "en-US"},
		{ID: "es", Language: "es-ES"},
	}
	cases := []struct {
		name string
		in   []Voice
		lang language.Language
		want string
	}{
		{name: "exact match wins over prefix", in: voices, lang: language.ES, want: "es"},
		{name: "exact english", in: voices, lang: language.EN, want: "us"},
		{name: "prefix fallback", in: voices[:1], lang: language.ES, want: "mx"},
		{name: "default", in: voices[:1], lang: language.EN, want: "default"},
		{name: "empty list", in: nil, lang: language.ES, want: "default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectVoice(tc.in, tc.lang, "default"); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCompletionFrames(t *testing.T) {
	id, reason, ok := Completion(DoneFrame("s", "test", "u1"))
	if !ok || id != "u1" || reason != "" {
		t.Fatalf("unexpected done parse: %q %q %v", id, reason, ok)
	}
	id, reason, ok = Completion(ErrorFrame("s", "test", "u2", "synthesis-failed"))
	if !ok || id != "u2" || reason != "synthesis-failed" {
		t.Fatalf("unexpected error parse: %q %q %v", id, reason, ok)
	}
	if _, _, ok := Completion(frames.NewTextFrame("s", 0, "hi", nil)); ok {
		t.Fatalf("text frame is not a completion")
	}
}
