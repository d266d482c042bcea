package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/config"
	"github.com/JakeFAU/company-enricher/internal/llm"
	memorypublisher "github.com/JakeFAU/company-enricher/internal/publisher/memory"
	"github.com/JakeFAU/company-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/company-enricher/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetcher.Engine = config.EngineStatic
	cfg.Fetcher.NavigationTimeout = 5 * time.Second
	cfg.Fetcher.ReadTimeout = 5 * time.Second
	cfg.Translate.Enabled = false
	cfg.Run.BatchSize = 2
	return cfg
}

// siteModel answers extraction prompts for pages mentioning widgets and returns prose otherwise.
var siteModel = llm.ModelFunc(func(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "widgets") {
		return `{"product_name": ["Widgets", "Gadgets"], "product_function": "Fastening", "product_location": "Ohio", "product_qual": null}`, nil
	}
	return "Sorry, I cannot help with that.", nil
})

func TestRunEnrichesEndToEnd(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/widgets":
			fmt.Fprint(w, `<html><body><h1>Acme</h1><p>We make widgets.</p><script>var x;</script></body></html>`)
		default:
			fmt.Fprint(w, `<html><body><p>Welcome to our homepage.</p></body></html>`)
		}
	}))
	defer site.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	store := memorystorage.NewCompanyStore(
		company.Record{ID: 1, Name: "Acme", Website: site.URL + "/widgets"},
		company.Record{ID: 2, Name: "Vague", Website: site.URL + "/about"},
		company.Record{ID: 3, Name: "Gone", Website: deadURL},
		company.Record{ID: 4, Name: "Ftp", Website: "ftp://files.example"},
	)
	archive := memorystorage.NewBlobStore()
	pub := memorypublisher.New()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cfg := baseConfig(t)
	cfg.Fetcher.HostRPS = 100

	a, err := New(context.Background(), cfg, zap.NewNop(),
		WithStore(store),
		WithModel(siteModel),
		WithArchive(archive),
		WithPublisher(pub),
		WithClock(fixedClock{now: now}),
	)
	require.NoError(t, err)
	defer a.Close()
	require.NotEmpty(t, a.RunID())

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, 2, sum.Batches)
	assert.Equal(t, 1, sum.Outcomes[company.OutcomeEnriched])
	assert.Equal(t, 1, sum.Outcomes[company.OutcomeExtractionFailed])
	assert.Equal(t, 1, sum.Outcomes[company.OutcomeUnreachable])
	assert.Equal(t, 1, sum.Outcomes[company.OutcomeSkipped])

	row, ok := store.Row(1)
	require.True(t, ok)
	require.NotNil(t, row.Product)
	assert.Equal(t, company.Product{Name: "Widgets, Gadgets", Function: "Fastening", Location: "Ohio"}, *row.Product)
	assert.Equal(t, now, row.UpdatedAt)

	row, _ = store.Row(2)
	require.NotNil(t, row.Product)
	assert.Equal(t, company.SentinelExtractionFailed, row.Product.Name)

	row, _ = store.Row(3)
	require.NotNil(t, row.Product)
	assert.Equal(t, company.SentinelUnreachable, row.Product.Name)

	row, _ = store.Row(4)
	assert.Nil(t, row.Product)
	assert.Equal(t, 1, store.Pending())

	assert.Len(t, pub.Events(), 3)
	for _, ev := range pub.Events() {
		assert.Equal(t, a.RunID(), ev.RunID)
	}
	paths := archive.Paths()
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], a.RunID()+"/2/")
}

func TestRunServesOpsEndpointsWhileRunning(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 0

	a, err := New(context.Background(), cfg, zap.NewNop(),
		WithStore(memorystorage.NewCompanyStore()),
		WithModel(siteModel),
	)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.server)

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Records)
	assert.False(t, sum.Interrupted)
}

func TestNewRequiresDSNWithoutStore(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), baseConfig(t), zap.NewNop(), WithModel(siteModel))
	require.ErrorContains(t, err, "db.dsn")
}

func TestNewRequiresAPIKeyWithoutModel(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.LLM.APIKey = ""
	_, err := New(context.Background(), cfg, zap.NewNop(), WithStore(memorystorage.NewCompanyStore()))
	require.ErrorContains(t, err, "llm client init failed")
}

func TestNewSelectsConfiguredProviders(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Artifacts.Provider = config.ProviderLocal
	cfg.Artifacts.Local.BaseDir = t.TempDir()
	cfg.Events.Provider = config.ProviderMemory

	a, err := New(context.Background(), cfg, zap.NewNop(),
		WithStore(memorystorage.NewCompanyStore()),
		WithModel(siteModel),
	)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &local.BlobStore{}, a.archive)
	assert.IsType(t, &memorypublisher.Publisher{}, a.publisher)
	assert.Nil(t, a.server)
}

func TestNewLeavesSideOutputsDisabledByDefault(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), baseConfig(t), zap.NewNop(),
		WithStore(memorystorage.NewCompanyStore()),
		WithModel(siteModel),
	)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.archive)
	assert.Nil(t, a.publisher)
	require.NoError(t, a.ready(context.Background()))
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []int
	a := &App{}
	a.onClose(func() { order = append(order, 1) })
	a.onClose(func() { order = append(order, 2) })
	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}
