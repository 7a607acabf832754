package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax-dev/pampax/internal/store"
)

type fakeInteractionSource struct {
	rows []*store.Interaction
}

func (f *fakeInteractionSource) GetInteractionsSince(ctx context.Context, projectID string, since time.Time, limit int) ([]*store.Interaction, error) {
	return f.rows, nil
}

func TestDeriveSignal_SatisfiedByTopClick(t *testing.T) {
	a := NewAnalyzer(&fakeInteractionSource{})
	s := a.DeriveSignal(&store.Interaction{ID: "1", Intent: "symbol", TopClick: "chunk-1"})
	assert.True(t, s.Satisfied)
}

func TestDeriveSignal_SatisfiedByFastFix(t *testing.T) {
	a := NewAnalyzer(&fakeInteractionSource{})
	s := a.DeriveSignal(&store.Interaction{ID: "2", TimeToFixMS: 1000})
	assert.True(t, s.Satisfied)
}

func TestDeriveSignal_UnsatisfiedBySlowFixNoClick(t *testing.T) {
	a := NewAnalyzer(&fakeInteractionSource{})
	s := a.DeriveSignal(&store.Interaction{ID: "3", TimeToFixMS: 120_000})
	assert.False(t, s.Satisfied)
}

func TestAnalyze_AggregatesPerIntent(t *testing.T) {
	rows := []*store.Interaction{
		{ID: "a", ProjectID: "repo1", Intent: "symbol", TopClick: "x", TokenUsage: 100, OccurredAt: time.Now()},
		{ID: "b", ProjectID: "repo1", Intent: "symbol", TimeToFixMS: 120_000, TokenUsage: 200, OccurredAt: time.Now()},
		{ID: "c", ProjectID: "repo1", Intent: "config", TopClick: "y", TokenUsage: 50, OccurredAt: time.Now()},
	}
	a := NewAnalyzer(&fakeInteractionSource{rows: rows})
	report, err := a.Analyze(context.Background(), "repo1", 30, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Overall.Interactions)
	assert.Equal(t, 2, report.Overall.Satisfied)

	symbolMetrics := report.ByIntent["symbol"]
	require.NotNil(t, symbolMetrics)
	assert.Equal(t, 2, symbolMetrics.Interactions)
	assert.Equal(t, 1, symbolMetrics.Satisfied)
	assert.InDelta(t, 0.5, symbolMetrics.Rate, 0.001)
}

func TestBundleSignature_StableForSameInputs(t *testing.T) {
	counts := map[string]int{"fts": 3, "vector": 2}
	a := BundleSignature(counts, "symbol", 1200, 2000)
	b := BundleSignature(map[string]int{"vector": 2, "fts": 3}, "symbol", 1200, 2000)
	assert.Equal(t, a, b)
}
