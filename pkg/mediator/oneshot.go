package mediator

import (
	"context"
	"io"
	"log/slog"

	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/language"
	"github.com/harunnryd/parla/pkg/observers"
	"github.com/harunnryd/parla/pkg/resilience"
	"github.com/harunnryd/parla/pkg/translate"
)

// Result is a single translation outside a live session.
type Result struct {
	Text     string
	Language language.Language
}

// TranslateOnce translates text with the configured translator, using the
// same retry and validation as a live turn. frame may be nil.
func TranslateOnce(ctx context.Context, cfg Config, providers *ProviderRegistry, text string, frame *frames.ImageFrame, logger *slog.Logger) (Result, error) {
	if providers == nil {
		providers = NewBuiltinRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	inner, err := providers.BuildTranslator(ctx, cfg)
	if err != nil {
		return Result{}, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "translator")
	}
	if c, ok := inner.(io.Closer); ok {
		defer c.Close()
	}

	res := cfg.Resilience
	tr := translate.NewResilient(inner, translate.Options{
		Timeout:           ms(cfg.Turn.TranslateTimeoutMS),
		Retry:             resilience.NewRetryPolicy(res.Retries, ms(res.RetryBackoffMS)),
		SystemInstruction: cfg.Translator.SystemInstruction,
		Observer:          observers.NewLoggerObserver(logger),
		Logger:            logger,
	})
	out, err := tr.Translate(ctx, translate.Request{Text: text, Frame: frame})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: out, Language: language.Detect(out, text)}, nil
}
