package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/extract"
	"github.com/JakeFAU/company-enricher/internal/fetcher"
	"github.com/JakeFAU/company-enricher/internal/llm"
	"github.com/JakeFAU/company-enricher/internal/publisher/memory"
	storemem "github.com/JakeFAU/company-enricher/internal/storage/memory"
	"github.com/JakeFAU/company-enricher/internal/translate"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// pageSession serves fixed HTML, or blocks navigation until the deadline when hang is set.
type pageSession struct {
	html string
	hang bool
}

func (s *pageSession) Navigate(ctx context.Context, _ string) error {
	if s.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *pageSession) HTML(context.Context) (string, error) { return s.html, nil }
func (s *pageSession) Close() error                         { return nil }

type pageLauncher struct {
	mu       sync.Mutex
	pages    map[string]*pageSession
	launches int
}

func (l *pageLauncher) Launch(context.Context) (fetcher.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	return &routingSession{l: l}, nil
}

type routingSession struct {
	l   *pageLauncher
	cur *pageSession
}

func (s *routingSession) Navigate(ctx context.Context, url string) error {
	s.l.mu.Lock()
	page, ok := s.l.pages[url]
	s.l.mu.Unlock()
	if !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	s.cur = page
	return page.Navigate(ctx, url)
}

func (s *routingSession) HTML(ctx context.Context) (string, error) { return s.cur.HTML(ctx) }
func (s *routingSession) Close() error                             { return nil }

// scriptedModel answers translation prompts with the input text and extraction prompts with answer.
type scriptedModel struct {
	answer string
	err    error
}

func (m scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "You are a translation engine.") {
		_, text, _ := strings.Cut(prompt, "Text:\n")
		return text, nil
	}
	return m.answer, m.err
}

type harness struct {
	store    *storemem.CompanyStore
	blobs    *storemem.BlobStore
	events   *memory.Publisher
	launcher *pageLauncher
	pipeline *Pipeline
}

func newHarness(t *testing.T, model llm.Model, records ...company.Record) *harness {
	t.Helper()

	launcher := &pageLauncher{pages: map[string]*pageSession{
		"https://fruit.example": {html: "<html><body><h1>Xin chào</h1><p>Bananas and durian</p></body></html>"},
		"https://slow.example":  {hang: true},
	}}
	f, err := fetcher.New(launcher, fetcher.Config{NavigationTimeout: 20 * time.Millisecond, ReadTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	ex, err := extract.New(model, extract.Config{}, zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		store:    storemem.NewCompanyStore(records...),
		blobs:    storemem.NewBlobStore(),
		events:   memory.New(),
		launcher: launcher,
	}
	h.pipeline, err = New(
		f,
		translate.New(model, translate.Config{Enabled: true}, zap.NewNop()),
		ex,
		h.store,
		fakeClock{now: fixedNow},
		Config{ArchivePrefix: "model-responses/"},
		zap.NewNop(),
		WithArchive(h.blobs),
		WithPublisher(h.events),
		WithRunID("run-7"),
	)
	require.NoError(t, err)
	return h
}

func TestScenarioInvalidSchemeIsSkipped(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 1, Name: "X", Website: "ftp://x.com"}
	h := newHarness(t, scriptedModel{answer: "{}"}, rec)

	outcome := h.pipeline.Process(context.Background(), rec)
	require.Equal(t, company.OutcomeSkipped, outcome)

	row, ok := h.store.Row(1)
	require.True(t, ok)
	require.Nil(t, row.Product)
	require.True(t, row.UpdatedAt.IsZero())
	require.Zero(t, h.launcher.launches)
	require.Empty(t, h.events.Events())
}

func TestScenarioNavigationTimeoutWritesUnreachable(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 2, Name: "Slow", Website: "https://slow.example"}
	h := newHarness(t, scriptedModel{answer: "{}"}, rec)

	outcome := h.pipeline.Process(context.Background(), rec)
	require.Equal(t, company.OutcomeUnreachable, outcome)

	row, _ := h.store.Row(2)
	require.NotNil(t, row.Product)
	require.Equal(t, company.Product{Name: "[unreachable website]"}, *row.Product)
	require.Equal(t, fixedNow, row.UpdatedAt)

	events := h.events.Events()
	require.Len(t, events, 1)
	require.Equal(t, company.EnrichmentEvent{
		CompanyID:   2,
		Outcome:     company.OutcomeUnreachable,
		ProductName: "[unreachable website]",
		RunID:       "run-7",
		UpdatedAt:   fixedNow,
	}, events[0])
}

func TestScenarioNonJSONAnswerWritesGPTFailAndArchives(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 3, Name: "Fruit", Website: "https://fruit.example"}
	answer := "I'm sorry, I can't find any products on this page."
	h := newHarness(t, scriptedModel{answer: answer}, rec)

	outcome := h.pipeline.Process(context.Background(), rec)
	require.Equal(t, company.OutcomeExtractionFailed, outcome)

	row, _ := h.store.Row(3)
	require.Equal(t, company.Product{Name: "[gpt fail]"}, *row.Product)

	paths := h.blobs.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "model-responses/run-7/3/"), paths[0])
	require.True(t, strings.HasSuffix(paths[0], ".txt"))
	body, _ := h.blobs.Object(paths[0])
	require.Equal(t, answer, string(body))
}

func TestEmptyObjectAnswerWritesGPTFailAndArchives(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 8, Name: "Blank", Website: "https://blank.example"}
	h := newHarness(t, scriptedModel{answer: `{}`}, rec)

	require.Equal(t, company.OutcomeExtractionFailed, h.pipeline.Process(context.Background(), rec))

	row, _ := h.store.Row(8)
	require.Equal(t, company.Product{Name: "[gpt fail]"}, *row.Product)
	paths := h.blobs.Paths()
	require.Len(t, paths, 1)
	body, _ := h.blobs.Object(paths[0])
	require.Equal(t, "{}", string(body))
}

func TestScenarioMixedShapesAreNormalized(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 4, Name: "Fruit", Website: "https://fruit.example"}
	answer := `{"product_name": ["Bananas","Durian"], "product_function":"Food", "product_location":"Vietnam", "product_qual": null}`
	h := newHarness(t, scriptedModel{answer: answer}, rec)

	outcome := h.pipeline.Process(context.Background(), rec)
	require.Equal(t, company.OutcomeEnriched, outcome)

	row, _ := h.store.Row(4)
	require.Equal(t, company.Product{
		Name:           "Bananas, Durian",
		Function:       "Food",
		Location:       "Vietnam",
		Qualifications: "",
	}, *row.Product)
	require.Equal(t, fixedNow, row.UpdatedAt)
	require.Empty(t, h.blobs.Paths())
	require.Equal(t, "Bananas, Durian", h.events.Events()[0].ProductName)
}

func TestModelServiceFailureWritesGPTFailWithoutArchive(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 5, Website: "https://fruit.example"}
	model := scriptedModel{err: fmt.Errorf("%w: status 500", company.ErrModelService)}
	h := newHarness(t, model, rec)

	require.Equal(t, company.OutcomeExtractionFailed, h.pipeline.Process(context.Background(), rec))
	row, _ := h.store.Row(5)
	require.Equal(t, "[gpt fail]", row.Product.Name)
	require.Empty(t, h.blobs.Paths())
}

func TestUnresolvableHostIsUnreachable(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 6, Website: "https://nowhere.example"}
	h := newHarness(t, scriptedModel{answer: "{}"}, rec)

	require.Equal(t, company.OutcomeUnreachable, h.pipeline.Process(context.Background(), rec))
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SelectBatch(ctx context.Context, cursor int64, limit int) ([]company.Record, error) {
	args := m.Called(ctx, cursor, limit)
	records, _ := args.Get(0).([]company.Record)
	return records, args.Error(1) //nolint:wrapcheck
}

func (m *mockStore) UpdateRecord(ctx context.Context, id int64, product company.Product, updatedAt time.Time) error {
	args := m.Called(ctx, id, product, updatedAt)
	return args.Error(0) //nolint:wrapcheck
}

type stubFetcher struct {
	text string
	err  error
}

func (f stubFetcher) Fetch(context.Context, string) (string, error) { return f.text, f.err }

type passthrough struct{}

func (passthrough) Normalize(_ context.Context, text string) string { return text }

type stubExtractor struct {
	res   extract.Result
	err   error
	panic bool
}

func (e stubExtractor) Extract(context.Context, string) (extract.Result, error) {
	if e.panic {
		panic("nil map write")
	}
	return e.res, e.err
}

func TestWriteFailureIsUnclassifiedAndNotPublished(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("UpdateRecord", mock.Anything, int64(9), company.SentinelProduct(company.SentinelUnreadable), fixedNow).
		Return(errors.New("connection reset"))
	events := memory.New()

	p, err := New(
		stubFetcher{err: fmt.Errorf("%w: detached frame", company.ErrRead)},
		passthrough{},
		stubExtractor{},
		store,
		fakeClock{now: fixedNow},
		Config{},
		nil,
		WithPublisher(events),
	)
	require.NoError(t, err)

	outcome := p.Process(context.Background(), company.Record{ID: 9, Website: "https://x.example"})
	assert.Equal(t, company.OutcomeUnclassified, outcome)
	assert.Empty(t, events.Events())
	store.AssertExpectations(t)
}

func TestUnclassifiedErrorLeavesRecordUntouched(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	p, err := New(stubFetcher{err: errors.New("chrome not found")}, passthrough{}, stubExtractor{}, store, fakeClock{now: fixedNow}, Config{}, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, company.OutcomeUnclassified, p.Process(context.Background(), company.Record{ID: 1, Website: "https://x.example"}))
	store.AssertNotCalled(t, "UpdateRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	p, err := New(stubFetcher{text: "hello"}, passthrough{}, stubExtractor{panic: true}, store, fakeClock{now: fixedNow}, Config{}, zap.NewNop())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		require.Equal(t, company.OutcomeUnclassified, p.Process(context.Background(), company.Record{ID: 1, Website: "https://x.example"}))
	})
	store.AssertNotCalled(t, "UpdateRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	rec := company.Record{ID: 4, Website: "https://fruit.example"}
	h := newHarness(t, scriptedModel{answer: `{"product_name":"Bananas"}`}, rec)
	h.events.Err = errors.New("topic deleted")

	require.Equal(t, company.OutcomeEnriched, h.pipeline.Process(context.Background(), rec))
	row, _ := h.store.Row(4)
	require.Equal(t, "Bananas", row.Product.Name)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err  error
		want company.Outcome
	}{
		{nil, company.OutcomeEnriched},
		{fmt.Errorf("fetch: %w", company.ErrInvalidURL), company.OutcomeSkipped},
		{fmt.Errorf("fetch: %w", company.ErrNavigation), company.OutcomeUnreachable},
		{fmt.Errorf("fetch: %w", company.ErrRead), company.OutcomeUnreadable},
		{&extract.ParseError{Raw: "x", Err: errors.New("bad")}, company.OutcomeExtractionFailed},
		{fmt.Errorf("%w: %w", company.ErrExtraction, company.ErrModelService), company.OutcomeExtractionFailed},
		{company.ErrModelService, company.OutcomeUnclassified},
		{context.Canceled, company.OutcomeUnclassified},
		{errors.New("launch session: exec: chrome"), company.OutcomeUnclassified},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, passthrough{}, stubExtractor{}, &mockStore{}, fakeClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(stubFetcher{}, passthrough{}, stubExtractor{}, nil, fakeClock{}, Config{}, nil)
	require.Error(t, err)
}

func TestArchivePath(t *testing.T) {
	t.Parallel()

	p := &Pipeline{}
	require.Equal(t, "12/abc.txt", p.archivePath(12, "abc"))
	p.cfg.ArchivePrefix = "/diag/"
	p.runID = "r1"
	require.Equal(t, "diag/r1/12/abc.txt", p.archivePath(12, "abc"))
}
