package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mockConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parla.yaml")
	body := `
vendors:
  transcription:
    provider: mock
  translator:
    provider: mock
  speech:
    provider: mock
log_level: error
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "parla dev") || !strings.Contains(out, "gemini") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTranslateOneShot(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "parla.log")
	out, err := execute(t, "", "translate", "--config", mockConfigFile(t), "--log-file", logFile, "good", "morning")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !strings.Contains(out, "[translated] good morning") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTranslateMissingImage(t *testing.T) {
	_, err := execute(t, "", "translate", "--config", mockConfigFile(t), "--image", filepath.Join(t.TempDir(), "none.jpg"), "hello")
	if err == nil {
		t.Fatalf("expected image error")
	}
}

func TestRunQuitsFromConsole(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "parla.log")
	out, err := execute(t, "say hello\nquit\n", "run", "--config", mockConfigFile(t), "--log-file", logFile, "--no-audio")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "IDLE") {
		t.Fatalf("expected status output, got %q", out)
	}
}
