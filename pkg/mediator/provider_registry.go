package mediator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/audio"
	"github.com/harunnryd/parla/pkg/translate"
)

// SessionInfo identifies the session a collaborator is built for.
type SessionInfo struct {
	SessionID string
	StreamID  string
}

type TranscriberFactory func(cfg Config, settings map[string]any, info SessionInfo) (stt.StreamingSTT, error)
type TranslatorFactory func(ctx context.Context, cfg Config, settings map[string]any) (translate.Translator, error)
type SpeechFactory func(cfg Config, settings map[string]any, info SessionInfo, sink audio.Sink) (tts.SpeechOutput, error)

// ProviderRegistry maps provider names from config to constructors.
type ProviderRegistry struct {
	transcribers map[string]TranscriberFactory
	translators  map[string]TranslatorFactory
	speech       map[string]SpeechFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		transcribers: make(map[string]TranscriberFactory),
		translators:  make(map[string]TranslatorFactory),
		speech:       make(map[string]SpeechFactory),
	}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTranslator(name string, factory TranslatorFactory) {
	r.translators[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterSpeech(name string, factory SpeechFactory) {
	r.speech[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildTranscriber(cfg Config, info SessionInfo) (stt.StreamingSTT, error) {
	vc := cfg.Vendors.Transcription
	fn := r.transcribers[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcription provider not registered: %s", vc.Provider)
	}
	return fn(cfg, vc.Settings, info)
}

func (r *ProviderRegistry) BuildTranslator(ctx context.Context, cfg Config) (translate.Translator, error) {
	vc := cfg.Vendors.Translator
	fn := r.translators[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("translator provider not registered: %s", vc.Provider)
	}
	return fn(ctx, cfg, vc.Settings)
}

func (r *ProviderRegistry) BuildSpeech(cfg Config, info SessionInfo, sink audio.Sink) (tts.SpeechOutput, error) {
	vc := cfg.Vendors.Speech
	fn := r.speech[providerKey(vc.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("speech provider not registered: %s", vc.Provider)
	}
	return fn(cfg, vc.Settings, info, sink)
}

// Names lists registered providers per kind, sorted.
func (r *ProviderRegistry) Names() (transcribers, translators, speech []string) {
	for k := range r.transcribers {
		transcribers = append(transcribers, k)
	}
	for k := range r.translators {
		translators = append(translators, k)
	}
	for k := range r.speech {
		speech = append(speech, k)
	}
	sort.Strings(transcribers)
	sort.Strings(translators)
	sort.Strings(speech)
	return transcribers, translators, speech
}
