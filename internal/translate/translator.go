// Package translate brings page text into English before extraction.
package translate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/llm"
)

const instruction = `You are a translation engine. Detect the language of the text below.
If it is NOT English, translate it fully into English.
If it is already English, return exactly the original text unchanged.

Text:
`

// Config controls translation.
type Config struct {
	Enabled  bool
	MaxChars int // runes sent to the model, default 1500
}

// Translator asks a model to translate page text into English.
type Translator struct {
	model  llm.Model
	cfg    Config
	logger *zap.Logger
}

// New creates a Translator.
func New(model llm.Model, cfg Config, logger *zap.Logger) *Translator {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 1500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{model: model, cfg: cfg, logger: logger.Named("translate")}
}

// Prompt returns the model input for text.
func (t *Translator) Prompt(text string) string {
	return strings.TrimSpace(instruction + llm.Truncate(text, t.cfg.MaxChars))
}

// Normalize returns text in English. It never fails: on any problem the input text is returned.
// A successful answer replaces the whole input, so text beyond MaxChars is not carried forward.
func (t *Translator) Normalize(ctx context.Context, text string) string {
	if !t.cfg.Enabled || t.model == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := t.model.Complete(ctx, t.Prompt(text))
	if err != nil {
		t.logger.Warn("translation failed, keeping original text", zap.Error(err))
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		t.logger.Warn("translation returned empty text, keeping original text")
		return text
	}
	return out
}
