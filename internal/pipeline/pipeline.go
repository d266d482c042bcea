// Package pipeline runs one company record through fetch, translate, extract and write.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/extract"
	"github.com/JakeFAU/company-enricher/internal/hash/sha256"
	"github.com/JakeFAU/company-enricher/internal/logging"
	"github.com/JakeFAU/company-enricher/internal/metrics"
)

// PageFetcher returns the visible text of a website.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// TextNormalizer brings text into English. It does not fail.
type TextNormalizer interface {
	Normalize(ctx context.Context, text string) string
}

// StructuredExtractor pulls the four product fields out of page text.
type StructuredExtractor interface {
	Extract(ctx context.Context, text string) (extract.Result, error)
}

// Config controls side outputs.
type Config struct {
	// ArchivePrefix is the leading path segment for archived model responses.
	ArchivePrefix string
	// PublishTimeout bounds each event publish; zero means no extra deadline.
	PublishTimeout time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithArchive stores unparseable model responses in blobs.
func WithArchive(blobs company.BlobStore) Option {
	return func(p *Pipeline) { p.archive = blobs }
}

// WithHasher replaces the SHA-256 hasher used for archive keys.
func WithHasher(h company.Hasher) Option {
	return func(p *Pipeline) { p.hasher = h }
}

// WithPublisher emits an event after every successful terminal write.
func WithPublisher(pub company.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithRunID tags events and archive paths with the run identifier.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// Pipeline processes single records. It is safe for concurrent use when its dependencies are.
type Pipeline struct {
	fetcher    PageFetcher
	translator TextNormalizer
	extractor  StructuredExtractor
	store      company.Store
	clock      company.Clock
	archive    company.BlobStore
	hasher     company.Hasher
	publisher  company.Publisher
	runID      string
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Pipeline.
func New(
	fetcher PageFetcher,
	translator TextNormalizer,
	extractor StructuredExtractor,
	store company.Store,
	clock company.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case translator == nil:
		return nil, errors.New("pipeline: translator is required")
	case extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case store == nil:
		return nil, errors.New("pipeline: store is required")
	case clock == nil:
		return nil, errors.New("pipeline: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		fetcher:    fetcher,
		translator: translator,
		extractor:  extractor,
		store:      store,
		clock:      clock,
		hasher:     sha256.New(),
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Classify maps a stage error to the outcome it produces.
func Classify(err error) company.Outcome {
	switch {
	case err == nil:
		return company.OutcomeEnriched
	case errors.Is(err, company.ErrInvalidURL):
		return company.OutcomeSkipped
	case errors.Is(err, company.ErrNavigation):
		return company.OutcomeUnreachable
	case errors.Is(err, company.ErrRead):
		return company.OutcomeUnreadable
	case errors.Is(err, company.ErrExtraction):
		return company.OutcomeExtractionFailed
	default:
		return company.OutcomeUnclassified
	}
}

// Process runs rec to completion and reports the outcome. Panics in any stage become OutcomeUnclassified.
func (p *Pipeline) Process(ctx context.Context, rec company.Record) (outcome company.Outcome) {
	log := logging.ForRecord(p.logger, rec).With(zap.String("name", rec.Name))
	metrics.IncInFlight()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			outcome = company.OutcomeUnclassified
		}
		metrics.DecInFlight()
		metrics.ObserveRecord(string(outcome))
	}()

	product, err := p.enrich(ctx, rec)
	outcome = Classify(err)
	switch outcome {
	case company.OutcomeSkipped:
		log.Warn("skipping invalid url", zap.Error(err))
		return outcome
	case company.OutcomeUnclassified:
		log.Error("record failed", zap.Error(err))
		return outcome
	case company.OutcomeUnreachable:
		log.Warn("website unreachable", zap.Error(err))
		product = company.SentinelProduct(company.SentinelUnreachable)
	case company.OutcomeUnreadable:
		log.Warn("content unreadable", zap.Error(err))
		product = company.SentinelProduct(company.SentinelUnreadable)
	case company.OutcomeExtractionFailed:
		log.Warn("extraction failed", zap.Error(err))
		product = company.SentinelProduct(company.SentinelExtractionFailed)
		p.archiveResponse(ctx, rec, err, log)
	}

	updatedAt, err := p.write(ctx, rec, product)
	if err != nil {
		log.Error("write failed", zap.String("outcome", string(outcome)), zap.Error(err))
		return company.OutcomeUnclassified
	}
	log.Info("record saved", zap.String("outcome", string(outcome)), zap.String("product_name", product.Name))
	p.publish(ctx, rec, outcome, product, updatedAt, log)
	return outcome
}

func (p *Pipeline) enrich(ctx context.Context, rec company.Record) (company.Product, error) {
	start := time.Now()
	text, err := p.fetcher.Fetch(ctx, rec.Website)
	metrics.ObserveStage(metrics.StageFetch, time.Since(start))
	if err != nil {
		return company.Product{}, fmt.Errorf("fetch: %w", err)
	}

	start = time.Now()
	english := p.translator.Normalize(ctx, text)
	metrics.ObserveStage(metrics.StageTranslate, time.Since(start))

	start = time.Now()
	res, err := p.extractor.Extract(ctx, english)
	metrics.ObserveStage(metrics.StageExtract, time.Since(start))
	if err != nil {
		return company.Product{}, fmt.Errorf("extract: %w", err)
	}
	return res.Product(), nil
}

func (p *Pipeline) write(ctx context.Context, rec company.Record, product company.Product) (time.Time, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(metrics.StageWrite, time.Since(start)) }()

	updatedAt := p.clock.Now()
	if err := p.store.UpdateRecord(ctx, rec.ID, product, updatedAt); err != nil {
		return time.Time{}, fmt.Errorf("update record: %w", err)
	}
	return updatedAt, nil
}

func (p *Pipeline) archiveResponse(ctx context.Context, rec company.Record, err error, log *zap.Logger) {
	var perr *extract.ParseError
	if p.archive == nil || !errors.As(err, &perr) {
		return
	}
	raw := []byte(perr.Raw)
	digest, herr := p.hasher.Hash(raw)
	if herr != nil {
		log.Warn("hash model response failed", zap.Error(herr))
		return
	}
	uri, aerr := p.archive.PutObject(ctx, p.archivePath(rec.ID, digest), "text/plain; charset=utf-8", bytes.NewReader(raw))
	if aerr != nil {
		log.Warn("archive model response failed", zap.Error(aerr))
		return
	}
	log.Info("model response archived", zap.String("blob_uri", uri))
}

func (p *Pipeline) archivePath(companyID int64, digest string) string {
	parts := make([]string, 0, 4)
	if prefix := strings.Trim(p.cfg.ArchivePrefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	if p.runID != "" {
		parts = append(parts, p.runID)
	}
	parts = append(parts, strconv.FormatInt(companyID, 10), digest+".txt")
	return strings.Join(parts, "/")
}

func (p *Pipeline) publish(
	ctx context.Context,
	rec company.Record,
	outcome company.Outcome,
	product company.Product,
	updatedAt time.Time,
	log *zap.Logger,
) {
	if p.publisher == nil {
		return
	}
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}
	event := company.EnrichmentEvent{
		CompanyID:   rec.ID,
		Outcome:     outcome,
		ProductName: product.Name,
		RunID:       p.runID,
		UpdatedAt:   updatedAt,
	}
	id, err := p.publisher.Publish(ctx, event)
	if err != nil {
		log.Warn("publish event failed", zap.Error(err))
		return
	}
	log.Debug("event published", zap.String("message_id", id))
}
