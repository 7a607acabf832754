// Package outcome turns raw Interaction rows into a stream of
// OutcomeSignal records and aggregates them into SatisfactionMetrics
// the Weight & Policy Tuner consumes. It generalizes
// internal/telemetry/query_metrics.go
// (QueryEvent recording, latency bucketing over a CircularBuffer) from
// query-latency telemetry to full satisfaction analysis over persisted
// Interaction rows pulled from the Store.
package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pampax-dev/pampax/internal/store"
)

// TimeToFixThresholdMS is the default ceiling below which a fix is
// considered fast enough to imply satisfaction, used when an interaction
// has no explicit accept/click signal.
const TimeToFixThresholdMS = 60_000

// interactionSource is the subset of SQLiteStore the analyzer reads.
type interactionSource interface {
	GetInteractionsSince(ctx context.Context, projectID string, since time.Time, limit int) ([]*store.Interaction, error)
}

// Signal is one interaction's derived outcome.
type Signal struct {
	InteractionID    string
	BundleSignature  string
	Intent           string
	Satisfied        bool
	TokenUsage       int
	SeedWeights      map[string]float64
	PolicyThresholds map[string]float64
	TimeToFixMS      int
	Language         string
	Repo             string
}

// BundleSignature digests a bundle's shape: sha256 over sorted
// source-kind counts, intent, token-usage bucket, budget-usage bucket.
// sourceCounts maps a candidate source name to how many items in the
// bundle it contributed.
func BundleSignature(sourceCounts map[string]int, intentName string, tokenUsage, tokenBudget int) string {
	keys := make([]string, 0, len(sourceCounts))
	for k := range sourceCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%d;", k, sourceCounts[k])
	}
	fmt.Fprintf(h, "|intent=%s|tokens_bucket=%d|budget_bucket=%d",
		intentName, bucket(tokenUsage, 500), bucket(tokenBudget, 500))
	return hex.EncodeToString(h.Sum(nil))
}

func bucket(n, size int) int {
	if size <= 0 {
		return n
	}
	return n / size
}

// Analyzer derives OutcomeSignals and satisfaction aggregates from
// Interaction rows.
type Analyzer struct {
	store                interactionSource
	timeToFixThresholdMS int
}

// NewAnalyzer creates an Analyzer over the given store, using the
// default time-to-fix threshold.
func NewAnalyzer(s interactionSource) *Analyzer {
	return &Analyzer{store: s, timeToFixThresholdMS: TimeToFixThresholdMS}
}

// WithTimeToFixThreshold overrides the default satisfaction threshold.
func (a *Analyzer) WithTimeToFixThreshold(ms int) *Analyzer {
	a.timeToFixThresholdMS = ms
	return a
}

// DeriveSignal turns one Interaction row into an OutcomeSignal. satisfied
// is true when the top result was clicked/accepted (TopClick non-empty or
// an explicit Satisfied flag), or time_to_fix fell below threshold.
func (a *Analyzer) DeriveSignal(it *store.Interaction) Signal {
	satisfied := it.TopClick != ""
	if it.Satisfied.Valid {
		satisfied = it.Satisfied.Bool
	} else if it.TimeToFixMS > 0 && it.TimeToFixMS < a.timeToFixThresholdMS {
		satisfied = true
	}

	var weights map[string]float64
	_ = json.Unmarshal([]byte(it.SeedWeightsJSON), &weights)
	var thresholds map[string]float64
	_ = json.Unmarshal([]byte(it.PolicyThresholds), &thresholds)

	return Signal{
		InteractionID:    it.ID,
		BundleSignature:  it.BundleSignature,
		Intent:           it.Intent,
		Satisfied:        satisfied,
		TokenUsage:       it.TokenUsage,
		SeedWeights:      weights,
		PolicyThresholds: thresholds,
		TimeToFixMS:      it.TimeToFixMS,
		Repo:             it.ProjectID,
	}
}

// Metrics is a SatisfactionMetrics aggregate over one grouping key
// (overall, an intent, a bundle signature, a language, or a repo).
type Metrics struct {
	Interactions int
	Satisfied    int
	Rate         float64
	AvgTimeToFix float64
	AvgTokens    float64
}

func (m *Metrics) add(s Signal) {
	m.Interactions++
	if s.Satisfied {
		m.Satisfied++
	}
	m.AvgTimeToFix += float64(s.TimeToFixMS)
	m.AvgTokens += float64(s.TokenUsage)
}

func (m *Metrics) finalize() {
	if m.Interactions == 0 {
		return
	}
	m.Rate = float64(m.Satisfied) / float64(m.Interactions)
	m.AvgTimeToFix /= float64(m.Interactions)
	m.AvgTokens /= float64(m.Interactions)
}

// Report bundles the SatisfactionMetrics groupings the learner reads.
type Report struct {
	Overall        Metrics
	ByIntent       map[string]*Metrics
	ByBundleSig    map[string]*Metrics
	ByLanguage     map[string]*Metrics
	ByRepo         map[string]*Metrics
	Signals        []Signal
	AnalyzedWindow time.Duration
}

// Analyze pulls every interaction for projectID in the last days days and
// aggregates SatisfactionMetrics. This is a single linear pass over the
// fetched rows, so large histories stay cheap as long as the Store query
// itself is fast (it is indexed
// on (project_id, occurred_at)).
func (a *Analyzer) Analyze(ctx context.Context, projectID string, days int, now time.Time) (*Report, error) {
	if days <= 0 {
		days = 30
	}
	since := now.AddDate(0, 0, -days)
	rows, err := a.store.GetInteractionsSince(ctx, projectID, since, 200_000)
	if err != nil {
		return nil, fmt.Errorf("analyze outcomes: %w", err)
	}

	report := &Report{
		ByIntent:       make(map[string]*Metrics),
		ByBundleSig:    make(map[string]*Metrics),
		ByLanguage:     make(map[string]*Metrics),
		ByRepo:         make(map[string]*Metrics),
		AnalyzedWindow: now.Sub(since),
	}

	for _, it := range rows {
		s := a.DeriveSignal(it)
		report.Signals = append(report.Signals, s)
		report.Overall.add(s)
		groupAdd(report.ByIntent, s.Intent, s)
		groupAdd(report.ByBundleSig, s.BundleSignature, s)
		groupAdd(report.ByLanguage, s.Language, s)
		groupAdd(report.ByRepo, s.Repo, s)
	}

	report.Overall.finalize()
	for _, m := range report.ByIntent {
		m.finalize()
	}
	for _, m := range report.ByBundleSig {
		m.finalize()
	}
	for _, m := range report.ByLanguage {
		m.finalize()
	}
	for _, m := range report.ByRepo {
		m.finalize()
	}
	return report, nil
}

func groupAdd(group map[string]*Metrics, key string, s Signal) {
	if key == "" {
		return
	}
	m, ok := group[key]
	if !ok {
		m = &Metrics{}
		group[key] = m
	}
	m.add(s)
}
