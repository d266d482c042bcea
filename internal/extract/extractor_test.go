package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
	"github.com/JakeFAU/company-enricher/internal/llm"
	"github.com/JakeFAU/company-enricher/internal/normalize"
)

func staticModel(answer string, err error) llm.Model {
	return llm.ModelFunc(func(context.Context, string) (string, error) {
		return answer, err
	})
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestExtractStringFields(t *testing.T) {
	t.Parallel()

	ex, err := New(staticModel(`{
		"product_name": "Jeans, Jackets",
		"product_function": "Clothing for work",
		"product_location": "Hanoi",
		"product_qual": "ISO 9001"
	}`, nil), Config{}, zap.NewNop())
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), "page text")
	require.NoError(t, err)
	assert.Equal(t, company.Product{
		Name:           "Jeans, Jackets",
		Function:       "Clothing for work",
		Location:       "Hanoi",
		Qualifications: "ISO 9001",
	}, res.Product())
}

func TestExtractMixedShapes(t *testing.T) {
	t.Parallel()

	ex, err := New(staticModel(`{"product_name":["Bananas","Durian"],"product_location":{"city":"Hà Nội"},"product_qual":null,"extra":1}`, nil), Config{}, nil)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, normalize.Absent{}, res.ProductFunction)
	assert.Equal(t, normalize.Absent{}, res.ProductQual)
	assert.Equal(t, company.Product{
		Name:     "Bananas, Durian",
		Location: `{"city":"Hà Nội"}`,
	}, res.Product())
}

func TestExtractAcceptsEmptyAndNullFields(t *testing.T) {
	t.Parallel()

	ex, err := New(staticModel(`{"product_name":"","product_function":null}`, nil), Config{}, nil)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, company.Product{}, res.Product())
}

func TestExtractRejectsMalformedAnswers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		answer string
	}{
		{"prose", "Sure! Here is the JSON you asked for."},
		{"fenced", "```json\n{\"product_name\":\"x\"}\n```"},
		{"array", `["product_name"]`},
		{"string", `"product_name"`},
		{"truncated", `{"product_name": "Jea`},
		{"empty object", `{}`},
		{"unknown keys only", `{"other":"x"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ex, err := New(staticModel(tc.answer, nil), Config{}, zap.NewNop())
			require.NoError(t, err)

			_, err = ex.Extract(context.Background(), "text")
			require.ErrorIs(t, err, company.ErrExtraction)
			require.ErrorIs(t, err, company.ErrModelResponse)
			require.NotErrorIs(t, err, company.ErrModelService)

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.answer, perr.Raw)
		})
	}
}

func TestExtractWrapsServiceErrors(t *testing.T) {
	t.Parallel()

	svcErr := errors.Join(company.ErrModelService, errors.New("status 500"))
	ex, err := New(staticModel("", svcErr), Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "text")
	require.ErrorIs(t, err, company.ErrExtraction)
	require.ErrorIs(t, err, company.ErrModelService)

	var perr *ParseError
	require.False(t, errors.As(err, &perr))
}

func TestPromptTruncatesAndFencesText(t *testing.T) {
	t.Parallel()

	var seen string
	model := llm.ModelFunc(func(_ context.Context, prompt string) (string, error) {
		seen = prompt
		return `{"product_name":null}`, nil
	})
	ex, err := New(model, Config{MaxChars: 5}, zap.NewNop())
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "xxxxxQQQQQ")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(seen, "You are analyzing a company's website content."))
	require.Contains(t, seen, `"product_qual": "..."`)
	require.Contains(t, seen, "only JSON")
	require.True(t, strings.HasSuffix(seen, "---\nxxxxx\n---"))
	require.NotContains(t, seen, "Q")
}

func TestPromptDefaultsToSevenThousandRunes(t *testing.T) {
	t.Parallel()

	ex, err := New(staticModel("{}", nil), Config{}, nil)
	require.NoError(t, err)

	p := ex.Prompt(strings.Repeat("é", 8000))
	require.Equal(t, 7000, strings.Count(p, "é"))
}
