package mediator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/parla/pkg/errorsx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parla.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vendors.Transcription.Provider != "deepgram" || cfg.Vendors.Translator.Provider != "gemini" || cfg.Vendors.Speech.Provider != "elevenlabs" {
		t.Fatalf("unexpected default providers: %+v", cfg.Vendors)
	}
	if cfg.Turn.EndpointDebounceMS != 1500 || !cfg.Turn.AutoRestart {
		t.Fatalf("unexpected turn defaults: %+v", cfg.Turn)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
	if cfg.Vision.Source != "none" {
		t.Fatalf("expected no frame source by default, got %q", cfg.Vision.Source)
	}
}

func TestLoadConfigFileWithEnvExpansion(t *testing.T) {
	t.Setenv("PARLA_TEST_GEMINI_KEY", "secret")
	t.Setenv("PARLA_LOG_LEVEL", "debug")
	path := writeConfig(t, `
vendors:
  transcription:
    provider: mock
  translator:
    provider: gemini
    settings:
      api_key: ${PARLA_TEST_GEMINI_KEY}
      model: gemini-2.5-flash
  speech:
    provider: mock
turn:
  endpoint_debounce_ms: 900
translator:
  system_instruction: "Translate only."
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Vendors.Translator.Settings["api_key"]; got != "secret" {
		t.Fatalf("expected expanded api key, got %v", got)
	}
	if cfg.Turn.EndpointDebounceMS != 900 {
		t.Fatalf("expected debounce override, got %d", cfg.Turn.EndpointDebounceMS)
	}
	if cfg.Turn.TranslateTimeoutMS != 15000 {
		t.Fatalf("expected default translate timeout, got %d", cfg.Turn.TranslateTimeoutMS)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env override of log level, got %q", cfg.LogLevel)
	}
	if cfg.Translator.SystemInstruction != "Translate only." {
		t.Fatalf("unexpected instruction %q", cfg.Translator.SystemInstruction)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown source":   "vision:\n  source: webcam\n",
		"camera no path":   "vision:\n  source: camera\n",
		"negative timing":  "turn:\n  speech_timeout_ms: -1\n",
		"bad log format":   "log_format: xml\n",
		"bad jpeg quality": "vision:\n  jpeg_quality: 150\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if errorsx.Reason(err) != errorsx.ReasonConfigInvalid {
				t.Fatalf("expected config reason, got %q", errorsx.Reason(err))
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
