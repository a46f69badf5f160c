package configutil

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var voiceSchema = Schema{
	Required: []string{"api_key"},
	Optional: []string{"voice_id", "timeout", "languages"},
}

func TestValidateSettings(t *testing.T) {
	err := ValidateSettings(map[string]any{"API-Key": "k", "voiceId": "v"}, voiceSchema)
	if err != nil {
		t.Fatalf("expected normalized keys to match, got %v", err)
	}

	err = ValidateSettings(map[string]any{"api_key": "  ", "pitch": 2, "speed": 1}, voiceSchema)
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SettingsError, got %v", err)
	}
	if !reflect.DeepEqual(se.Missing, []string{"api_key"}) || !reflect.DeepEqual(se.Unknown, []string{"pitch", "speed"}) {
		t.Fatalf("unexpected error %+v", se)
	}
	if se.Error() != "missing: api_key; unknown: pitch, speed" {
		t.Fatalf("unexpected message %q", se.Error())
	}

	if err := ValidateSettings(nil, voiceSchema); err == nil {
		t.Fatalf("expected missing required key on nil settings")
	}
	if err := ValidateSettings(map[string]any{"extra": 1}, Schema{AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

func TestLoadDecodesWithHooks(t *testing.T) {
	var out struct {
		APIKey    string        `mapstructure:"api_key"`
		VoiceID   string        `mapstructure:"voice_id"`
		Timeout   time.Duration `mapstructure:"timeout"`
		Languages []string      `mapstructure:"languages"`
	}
	err := Load("voice", map[string]any{
		"api_key":   "k",
		"VOICE-ID":  "v1",
		"timeout":   "1500ms",
		"languages": "en-US,es-ES",
	}, voiceSchema, &out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.APIKey != "k" || out.VoiceID != "v1" || out.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected decode %+v", out)
	}
	if !reflect.DeepEqual(out.Languages, []string{"en-US", "es-ES"}) {
		t.Fatalf("unexpected languages %v", out.Languages)
	}

	err = Load("voice", map[string]any{}, voiceSchema, &out)
	if err == nil || err.Error() != "voice settings: missing: api_key" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestValueHelpers(t *testing.T) {
	yes := true
	if !BoolValue(nil, true) || !BoolValue(&yes, false) {
		t.Fatalf("unexpected BoolValue")
	}
	if RequireString(" ", "vendors.speech.provider") == nil || RequireString("x", "p") != nil {
		t.Fatalf("unexpected RequireString")
	}
}
