// Package policy turns a classified intent into a concrete retrieval
// plan: expansion depth, early-stop threshold, per-source seed weights,
// and content-inclusion flags. It follows an "apply defaults,
// then deterministically adjust" shape (confidence,
// ApplyPathBoost), generalized here into an ordered adjustment pipeline.
package policy

import (
	"github.com/pampax-dev/pampax/internal/intent"
)

// SeedSource names a candidate generator whose contribution Seed-Mix
// weighs.
type SeedSource string

const (
	SourceDefinition     SeedSource = "definition"
	SourceDeclaration    SeedSource = "declaration"
	SourceImplementation SeedSource = "implementation"
	SourceUsage          SeedSource = "usage"
	SourceTest           SeedSource = "test"
	SourceReference      SeedSource = "reference"
)

const (
	MinDepth     = 1
	MaxDepth     = 10
	MinEarlyStop = 1
	MaxEarlyStop = 50
	MinWeight    = 0.1
	MaxWeight    = 5.0
)

// Decision is the output of the policy gate: everything downstream
// components need to execute one query.
type Decision struct {
	Intent             intent.Intent
	MaxDepth           int
	EarlyStopThreshold int
	SeedWeights        map[SeedSource]float64
	IncludeSymbols     bool
	IncludeFiles       bool
	IncludeContent     bool
}

// clone returns a deep copy so adjustments never mutate a shared default.
func (d Decision) clone() Decision {
	weights := make(map[SeedSource]float64, len(d.SeedWeights))
	for k, v := range d.SeedWeights {
		weights[k] = v
	}
	d.SeedWeights = weights
	return d
}

// defaultDecisions holds the per-intent base decision.
var defaultDecisions = map[intent.Intent]Decision{
	intent.IntentSymbol: {
		Intent: intent.IntentSymbol, MaxDepth: 2, EarlyStopThreshold: 3,
		IncludeSymbols: true, IncludeFiles: true, IncludeContent: true,
		SeedWeights: map[SeedSource]float64{
			SourceDefinition: 2.0, SourceDeclaration: 1.8, SourceImplementation: 1.5,
			SourceUsage: 1.0, SourceTest: 0.8, SourceReference: 0.5,
		},
	},
	intent.IntentConfig: {
		Intent: intent.IntentConfig, MaxDepth: 1, EarlyStopThreshold: 2,
		IncludeSymbols: false, IncludeFiles: true, IncludeContent: true,
		SeedWeights: map[SeedSource]float64{
			SourceDefinition: 1.5, SourceDeclaration: 1.2, SourceImplementation: 1.0,
			SourceUsage: 0.8, SourceTest: 0.4, SourceReference: 0.6,
		},
	},
	intent.IntentAPI: {
		Intent: intent.IntentAPI, MaxDepth: 2, EarlyStopThreshold: 2,
		IncludeSymbols: true, IncludeFiles: true, IncludeContent: true,
		SeedWeights: map[SeedSource]float64{
			SourceDefinition: 1.8, SourceDeclaration: 1.6, SourceImplementation: 2.0,
			SourceUsage: 1.2, SourceTest: 0.6, SourceReference: 0.8,
		},
	},
	intent.IntentIncident: {
		Intent: intent.IntentIncident, MaxDepth: 3, EarlyStopThreshold: 5,
		IncludeSymbols: true, IncludeFiles: true, IncludeContent: true,
		SeedWeights: map[SeedSource]float64{
			SourceDefinition: 1.2, SourceDeclaration: 1.0, SourceImplementation: 1.5,
			SourceUsage: 1.8, SourceTest: 1.3, SourceReference: 1.0,
		},
	},
	intent.IntentSearch: {
		Intent: intent.IntentSearch, MaxDepth: 2, EarlyStopThreshold: 10,
		IncludeSymbols: true, IncludeFiles: true, IncludeContent: true,
		SeedWeights: map[SeedSource]float64{
			SourceDefinition: 1.5, SourceDeclaration: 1.3, SourceImplementation: 1.2,
			SourceUsage: 1.0, SourceTest: 0.7, SourceReference: 0.7,
		},
	},
}

// RepoOverride narrows a decision's seed weights/thresholds for queries
// matching a path glob, applied last in the adjustment pipeline.
type RepoOverride struct {
	PathGlob           string
	MaxDepth           *int
	EarlyStopThreshold *int
	SeedWeightOverride map[SeedSource]float64
}

// Input bundles everything the gate needs to produce a Decision.
type Input struct {
	Intent          intent.Intent
	Confidence      float64
	QueryLength     int
	TokenBudget     int
	Language        string
	LanguageWeights map[string]float64 // multiplier applied to all seed weights, keyed by language
	RepoOverrides   []RepoOverride
	MatchedPathGlob string // set by the caller when a repo override's glob already matched
}

// Gate computes PolicyDecisions from classified queries.
type Gate struct{}

// NewGate creates a policy gate using the built-in default decision table.
func NewGate() *Gate {
	return &Gate{}
}

// Decide applies the five-step deterministic adjustment pipeline, in
// order: confidence, query length, budget, language,
// repo override. Each step only tightens or relaxes the prior step's
// result; order matters because later steps clamp what earlier steps
// produced.
func (g *Gate) Decide(in Input) Decision {
	base, ok := defaultDecisions[in.Intent]
	if !ok {
		base = defaultDecisions[intent.IntentSearch]
	}
	d := base.clone()

	g.applyConfidence(&d, in.Confidence)
	g.applyQueryLength(&d, in.QueryLength)
	g.applyBudget(&d, in.TokenBudget)
	g.applyLanguage(&d, in.LanguageWeights, in.Language)
	g.applyRepoOverride(&d, in.RepoOverrides, in.MatchedPathGlob)

	clampDecision(&d)
	return d
}

// applyConfidence: high confidence widens the search (more depth, more
// patience before stopping); low confidence narrows it to recover
// quickly from a likely misclassification.
func (g *Gate) applyConfidence(d *Decision, confidence float64) {
	switch {
	case confidence > 0.8:
		d.MaxDepth++
		d.EarlyStopThreshold = int(float64(d.EarlyStopThreshold) * 1.5)
	case confidence < 0.5:
		if d.MaxDepth > 1 {
			d.MaxDepth = 1
		}
		d.EarlyStopThreshold = d.EarlyStopThreshold / 2
		if d.EarlyStopThreshold < MinEarlyStop {
			d.EarlyStopThreshold = MinEarlyStop
		}
	}
}

// applyQueryLength: short queries are under-specified and benefit from
// one more hop of graph context; long queries are already specific
// enough that expansion adds noise.
func (g *Gate) applyQueryLength(d *Decision, length int) {
	switch {
	case length < 10:
		d.MaxDepth++
	case length > 50:
		d.MaxDepth--
		if d.MaxDepth < MinDepth {
			d.MaxDepth = MinDepth
		}
	}
}

// applyBudget: a tight token budget forces the packing engine to skip
// raw content and forces candidate generation to stop sooner.
func (g *Gate) applyBudget(d *Decision, tokenBudget int) {
	if tokenBudget > 0 && tokenBudget < 2000 {
		d.IncludeContent = false
		d.EarlyStopThreshold = d.EarlyStopThreshold / 2
		if d.EarlyStopThreshold < MinEarlyStop {
			d.EarlyStopThreshold = MinEarlyStop
		}
	}
}

// applyLanguage multiplies every seed weight by the configured
// per-language multiplier (e.g. a repo that weighs test coverage
// differently for Python vs. Go).
func (g *Gate) applyLanguage(d *Decision, languageWeights map[string]float64, language string) {
	if language == "" || languageWeights == nil {
		return
	}
	mult, ok := languageWeights[language]
	if !ok {
		return
	}
	for source, w := range d.SeedWeights {
		d.SeedWeights[source] = w * mult
	}
}

// applyRepoOverride applies the last-matching repo override's explicit
// field overrides, applied after every other adjustment so repo policy
// always has the final say.
func (g *Gate) applyRepoOverride(d *Decision, overrides []RepoOverride, matchedGlob string) {
	if matchedGlob == "" {
		return
	}
	for _, o := range overrides {
		if o.PathGlob != matchedGlob {
			continue
		}
		if o.MaxDepth != nil {
			d.MaxDepth = *o.MaxDepth
		}
		if o.EarlyStopThreshold != nil {
			d.EarlyStopThreshold = *o.EarlyStopThreshold
		}
		for source, w := range o.SeedWeightOverride {
			d.SeedWeights[source] = w
		}
	}
}

// clampDecision enforces the depth/threshold/weight bounds.
func clampDecision(d *Decision) {
	if d.MaxDepth < MinDepth {
		d.MaxDepth = MinDepth
	}
	if d.MaxDepth > MaxDepth {
		d.MaxDepth = MaxDepth
	}
	if d.EarlyStopThreshold < MinEarlyStop {
		d.EarlyStopThreshold = MinEarlyStop
	}
	if d.EarlyStopThreshold > MaxEarlyStop {
		d.EarlyStopThreshold = MaxEarlyStop
	}
	for source, w := range d.SeedWeights {
		if w < MinWeight {
			d.SeedWeights[source] = MinWeight
		} else if w > MaxWeight {
			d.SeedWeights[source] = MaxWeight
		}
	}
}
