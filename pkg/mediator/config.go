package mediator

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/parla/pkg/audio"
	"github.com/harunnryd/parla/pkg/configutil"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/vision"
	"github.com/spf13/viper"
)

type Config struct {
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Translator    TranslatorConfig    `mapstructure:"translator"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Audio         audio.Config        `mapstructure:"audio"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Transcription VendorConfig `mapstructure:"transcription"`
	Translator    VendorConfig `mapstructure:"translator"`
	Speech        VendorConfig `mapstructure:"speech"`
}

type TurnConfig struct {
	EndpointDebounceMS int  `mapstructure:"endpoint_debounce_ms"`
	TranslateTimeoutMS int  `mapstructure:"translate_timeout_ms"`
	SpeechTimeoutMS    int  `mapstructure:"speech_timeout_ms"`
	AutoRestart        bool `mapstructure:"auto_restart"`
	StartListening     bool `mapstructure:"start_listening"`
}

type VisionConfig struct {
	Source           string `mapstructure:"source"`
	CameraPath       string `mapstructure:"camera_path"`
	ScreenPath       string `mapstructure:"screen_path"`
	MaxDimension     int    `mapstructure:"max_dimension"`
	JPEGQuality      int    `mapstructure:"jpeg_quality"`
	CaptureTimeoutMS int    `mapstructure:"capture_timeout_ms"`
}

type TranslatorConfig struct {
	SystemInstruction string `mapstructure:"system_instruction"`
}

type ResilienceConfig struct {
	Retries           int `mapstructure:"retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	EventsFile    string `mapstructure:"events_file"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("vendors.transcription.provider", "deepgram")
	v.SetDefault("vendors.translator.provider", "gemini")
	v.SetDefault("vendors.speech.provider", "elevenlabs")
	v.SetDefault("turn.endpoint_debounce_ms", 1500)
	v.SetDefault("turn.translate_timeout_ms", 15000)
	v.SetDefault("turn.speech_timeout_ms", 30000)
	v.SetDefault("turn.auto_restart", true)
	v.SetDefault("turn.start_listening", false)
	v.SetDefault("vision.source", "none")
	v.SetDefault("vision.camera_path", "")
	v.SetDefault("vision.screen_path", "")
	v.SetDefault("vision.max_dimension", vision.DefaultMaxDimension)
	v.SetDefault("vision.jpeg_quality", vision.DefaultQuality)
	v.SetDefault("vision.capture_timeout_ms", int(vision.DefaultTimeout/time.Millisecond))
	v.SetDefault("translator.system_instruction", "")
	v.SetDefault("resilience.retries", 2)
	v.SetDefault("resilience.retry_backoff_ms", 250)
	v.SetDefault("resilience.breaker_threshold", 3)
	v.SetDefault("resilience.breaker_cooldown_ms", 30000)
	v.SetDefault("audio.input_sample_rate", audio.DefaultInputSampleRate)
	v.SetDefault("audio.output_sample_rate", audio.DefaultOutputSampleRate)
	v.SetDefault("audio.frames_per_buffer", 0)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.events_file", "")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("PARLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads path (YAML, JSON or TOML) over the defaults. An empty
// path yields the defaults plus PARLA_* environment overrides.
func LoadConfig(path string) (Config, error) {
	v := newViper()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "unmarshal")
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "validate config")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Vendors.Transcription.Provider, "vendors.transcription.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Translator.Provider, "vendors.translator.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Speech.Provider, "vendors.speech.provider"); err != nil {
		return err
	}
	src, err := vision.ParseSource(c.Vision.Source)
	if err != nil {
		return fmt.Errorf("vision.source: %w", err)
	}
	if src == vision.SourceCamera && strings.TrimSpace(c.Vision.CameraPath) == "" {
		return fmt.Errorf("vision.camera_path is required when vision.source is camera")
	}
	if src == vision.SourceScreen && strings.TrimSpace(c.Vision.ScreenPath) == "" {
		return fmt.Errorf("vision.screen_path is required when vision.source is screen")
	}
	if c.Vision.JPEGQuality < 0 || c.Vision.JPEGQuality > 100 {
		return fmt.Errorf("vision.jpeg_quality must be between 1 and 100")
	}
	if c.Turn.EndpointDebounceMS < 0 || c.Turn.TranslateTimeoutMS < 0 || c.Turn.SpeechTimeoutMS < 0 {
		return fmt.Errorf("turn timings must not be negative")
	}
	if c.Resilience.Retries < 0 {
		return fmt.Errorf("resilience.retries must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.Transcription.Settings = expandSettings(cfg.Vendors.Transcription.Settings)
	cfg.Vendors.Translator.Settings = expandSettings(cfg.Vendors.Translator.Settings)
	cfg.Vendors.Speech.Settings = expandSettings(cfg.Vendors.Speech.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
