package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pampax-dev/pampax/internal/intent"
	"github.com/pampax-dev/pampax/internal/outcome"
	"github.com/pampax-dev/pampax/internal/policy"
	"github.com/pampax-dev/pampax/internal/store"
	"github.com/pampax-dev/pampax/internal/tuner"
)

// LearnResult is one offline tuning pass's output: the satisfaction
// report the Outcome Analyzer produced and, if any intent had enough
// signals, the Tuner's weight/policy updates.
type LearnResult struct {
	Outcome *outcome.Report
	Tuning  *tuner.Report
}

// Learn runs the offline Outcome Analyzer over the last days days of a
// project's interactions, then hands the derived signals to the Tuner.
// dryRun true computes updates without persisting a new policy_weights
// version, so a tune can be previewed before it is applied. Each pass is
// recorded as a job_runs row so failed tunes are visible after the fact.
func (p *Pipeline) Learn(ctx context.Context, projectID string, days int, dryRun bool) (*LearnResult, error) {
	job := p.startJob(ctx, "learn")

	report, err := p.deps.Analyzer.Analyze(ctx, projectID, days, time.Now())
	if err != nil {
		p.finishJob(ctx, job, "failed", err.Error())
		return nil, fmt.Errorf("learn: analyze outcomes: %w", err)
	}

	base := baseWeightsByIntent(report.Signals)
	tuning, err := p.deps.Tuner.Tune(ctx, projectID, report.Signals, base, dryRun)
	if err != nil {
		p.finishJob(ctx, job, "failed", err.Error())
		return nil, fmt.Errorf("learn: tune: %w", err)
	}

	p.finishJob(ctx, job, "succeeded", fmt.Sprintf("%d signals over %d days", len(report.Signals), days))
	return &LearnResult{Outcome: report, Tuning: tuning}, nil
}

// startJob opens a job_runs row; failures to record are logged away, not
// surfaced, since job bookkeeping must never fail the job itself.
func (p *Pipeline) startJob(ctx context.Context, kind string) *store.JobRun {
	job := &store.JobRun{
		ID:        signatureID(kind, time.Now().Format(time.RFC3339Nano)),
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now(),
	}
	_ = p.deps.Store.SaveJobRun(ctx, job)
	return job
}

func (p *Pipeline) finishJob(ctx context.Context, job *store.JobRun, status, detail string) {
	job.Status = status
	job.Detail = detail
	job.EndedAt = time.Now()
	_ = p.deps.Store.SaveJobRun(ctx, job)
}

// baseWeightsByIntent seeds the Tuner's gradient descent from each
// observed intent's current default decision, so tuning adjusts the
// policy's existing weights rather than starting from zero.
func baseWeightsByIntent(signals []outcome.Signal) map[string]map[policy.SeedSource]float64 {
	gate := policy.NewGate()
	seen := make(map[string]bool)
	base := make(map[string]map[policy.SeedSource]float64)
	for _, s := range signals {
		if seen[s.Intent] {
			continue
		}
		seen[s.Intent] = true
		d := gate.Decide(policy.Input{Intent: intent.Intent(s.Intent)})
		base[s.Intent] = d.SeedWeights
	}
	return base
}
