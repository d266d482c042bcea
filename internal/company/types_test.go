package company

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Outcome]bool{
		OutcomeSkipped:          false,
		OutcomeUnreachable:      true,
		OutcomeUnreadable:       true,
		OutcomeExtractionFailed: true,
		OutcomeEnriched:         true,
		OutcomeUnclassified:     false,
	}
	require.Len(t, Outcomes, len(terminal))
	for _, o := range Outcomes {
		require.Equal(t, terminal[o], o.Terminal(), "outcome %s", o)
	}
}

func TestSentinelProduct(t *testing.T) {
	t.Parallel()

	p := SentinelProduct(SentinelUnreachable)
	require.Equal(t, Product{Name: "[unreachable website]"}, p)
}
