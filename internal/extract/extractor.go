// Package extract asks a language model for the four product fields of a page.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/llm"
	"github.com/JakeFAU/company-enricher/internal/normalize"
)

// Config controls extraction.
type Config struct {
	MaxChars int // runes of page text in the prompt, default 7000
}

// Result holds the four raw field values of one model answer.
type Result struct {
	ProductName     normalize.Value
	ProductFunction normalize.Value
	ProductLocation normalize.Value
	ProductQual     normalize.Value
}

// Product normalizes every field into the persisted text form.
func (r Result) Product() company.Product {
	return company.Product{
		Name:           normalize.Normalize(r.ProductName),
		Function:       normalize.Normalize(r.ProductFunction),
		Location:       normalize.Normalize(r.ProductLocation),
		Qualifications: normalize.Normalize(r.ProductQual),
	}
}

// ParseError reports a model answer that is not a JSON object of the expected shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches both extraction and model response failures.
func (e *ParseError) Is(target error) bool {
	return target == company.ErrExtraction || target == company.ErrModelResponse
}

// Extractor makes one model call per page.
type Extractor struct {
	model  llm.Model
	cfg    Config
	schema *jsonschema.Schema
	logger *zap.Logger
}

// New creates an Extractor.
func New(model llm.Model, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if model == nil {
		return nil, errors.New("extract: model is required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 7000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileSchema(responseSchema())
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return &Extractor{model: model, cfg: cfg, schema: schema, logger: logger.Named("extract")}, nil
}

// Extract returns the structured fields for text. Errors match company.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	raw, err := e.model.Complete(ctx, e.Prompt(text))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", company.ErrExtraction, err)
	}
	res, err := e.parse(raw)
	if err != nil {
		e.logger.Warn("model response rejected", zap.Error(err), zap.Int("raw_len", len(raw)))
		return Result{}, err
	}
	return res, nil
}

func (e *Extractor) parse(raw string) (Result, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Result{}, &ParseError{Raw: raw, Err: err}
	}
	if err := e.schema.Validate(doc); err != nil {
		return Result{}, &ParseError{Raw: raw, Err: fmt.Errorf("json does not match schema: %w", err)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Result{}, &ParseError{Raw: raw, Err: err}
	}
	values := make([]normalize.Value, len(fieldKeys))
	for i, k := range fieldKeys {
		v, err := normalize.FromJSON(fields[k])
		if err != nil {
			return Result{}, &ParseError{Raw: raw, Err: fmt.Errorf("field %s: %w", k, err)}
		}
		values[i] = v
	}
	return Result{
		ProductName:     values[0],
		ProductFunction: values[1],
		ProductLocation: values[2],
		ProductQual:     values[3],
	}, nil
}
