package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/audio"
	"github.com/harunnryd/parla/pkg/configutil"
	"github.com/harunnryd/parla/pkg/providers/deepgram"
	"github.com/harunnryd/parla/pkg/providers/elevenlabs"
	"github.com/harunnryd/parla/pkg/providers/gemini"
	"github.com/harunnryd/parla/pkg/providers/mock"
	"github.com/harunnryd/parla/pkg/providers/openai"
	"github.com/harunnryd/parla/pkg/translate"
)

var (
	deepgramSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "vad_events", "connect_retries", "params"},
	}
	geminiSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "temperature"},
	}
	openaiSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url"},
	}
	elevenlabsSchema = configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"voice_id", "voices", "model_id", "output_format", "base_url"},
	}
	mockTranscriptionSchema = configutil.Schema{Optional: []string{"transcript", "interim_transcript"}}
	mockTranslatorSchema    = configutil.Schema{Optional: []string{"replies"}}
	mockSpeechSchema        = configutil.Schema{Optional: []string{"auto_complete", "delay_ms", "fail_reason"}}
)

// NewBuiltinRegistry returns a registry with every bundled provider.
func NewBuiltinRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	RegisterBuiltins(r)
	return r
}

func RegisterBuiltins(r *ProviderRegistry) {
	r.RegisterTranscriber("deepgram", buildDeepgram)
	r.RegisterTranscriber("mock", buildMockTranscriber)
	r.RegisterTranslator("gemini", buildGemini)
	r.RegisterTranslator("openai", buildOpenAI)
	r.RegisterTranslator("mock", buildMockTranslator)
	r.RegisterSpeech("elevenlabs", buildElevenLabs)
	r.RegisterSpeech("mock", buildMockSpeech)
}

func buildDeepgram(cfg Config, settings map[string]any, info SessionInfo) (stt.StreamingSTT, error) {
	dc := deepgram.Config{SampleRate: cfg.Audio.InputSampleRate, Interim: true}
	if err := configutil.Load("deepgram", settings, deepgramSchema, &dc); err != nil {
		return nil, err
	}
	dc.StreamID = info.StreamID
	dc.SessionID = info.SessionID
	return deepgram.New(dc), nil
}

func buildMockTranscriber(_ Config, settings map[string]any, info SessionInfo) (stt.StreamingSTT, error) {
	var mc struct {
		Transcript        string `mapstructure:"transcript"`
		InterimTranscript string `mapstructure:"interim_transcript"`
	}
	if err := configutil.Load("mock transcription", settings, mockTranscriptionSchema, &mc); err != nil {
		return nil, err
	}
	return mock.NewSTT(mock.STTConfig{
		StreamID:          info.StreamID,
		Transcript:        mc.Transcript,
		InterimTranscript: mc.InterimTranscript,
	}), nil
}

func buildGemini(ctx context.Context, _ Config, settings map[string]any) (translate.Translator, error) {
	var gc gemini.Config
	if err := configutil.Load("gemini", settings, geminiSchema, &gc); err != nil {
		return nil, err
	}
	return gemini.New(ctx, gc)
}

func buildOpenAI(_ context.Context, _ Config, settings map[string]any) (translate.Translator, error) {
	var oc openai.Config
	if err := configutil.Load("openai", settings, openaiSchema, &oc); err != nil {
		return nil, err
	}
	return openai.New(oc)
}

func buildMockTranslator(_ context.Context, _ Config, settings map[string]any) (translate.Translator, error) {
	var mc struct {
		Replies map[string]string `mapstructure:"replies"`
	}
	if err := configutil.Load("mock translator", settings, mockTranslatorSchema, &mc); err != nil {
		return nil, err
	}
	return mock.NewTranslator(mock.TranslatorConfig{Replies: mc.Replies}), nil
}

func buildElevenLabs(cfg Config, settings map[string]any, info SessionInfo, sink audio.Sink) (tts.SpeechOutput, error) {
	var ec elevenlabs.Config
	if err := configutil.Load("elevenlabs", settings, elevenlabsSchema, &ec); err != nil {
		return nil, err
	}
	if ec.OutputFormat == "" {
		ec.OutputFormat = fmt.Sprintf("pcm_%d", cfg.Audio.OutputSampleRate)
	}
	ec.StreamID = info.StreamID
	ec.SessionID = info.SessionID
	return elevenlabs.New(ec, sink), nil
}

func buildMockSpeech(_ Config, settings map[string]any, info SessionInfo, _ audio.Sink) (tts.SpeechOutput, error) {
	mc := struct {
		AutoComplete *bool  `mapstructure:"auto_complete"`
		DelayMS      int    `mapstructure:"delay_ms"`
		FailReason   string `mapstructure:"fail_reason"`
	}{}
	if err := configutil.Load("mock speech", settings, mockSpeechSchema, &mc); err != nil {
		return nil, err
	}
	return mock.NewTTS(mock.TTSConfig{
		StreamID:     info.StreamID,
		AutoComplete: configutil.BoolValue(mc.AutoComplete, true),
		Delay:        time.Duration(mc.DelayMS) * time.Millisecond,
		FailReason:   mc.FailReason,
	}), nil
}
