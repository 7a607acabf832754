package config

import "fmt"

// PipelineConfig groups the sections the retrieval pipeline adds beyond
// the base Search/Embeddings/Performance config: policy
// defaults, packing budgets, reranker selection, the offline learner, and
// reliability tuning. It follows the same yaml/json struct-tag convention
// as the rest of Config and loads through the same LoadUserConfig/
// LoadProjectConfig/env-override precedence chain.
type PipelineConfig struct {
	Policy      PolicyConfig      `yaml:"policy" json:"policy"`
	Packing     PackingConfig     `yaml:"packing" json:"packing"`
	Reranker    RerankerConfig    `yaml:"reranker" json:"reranker"`
	Learning    LearningConfig    `yaml:"learning" json:"learning"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
}

// PolicyConfig configures the Policy Gate's default bounds and
// per-language weight multipliers.
type PolicyConfig struct {
	DefaultTokenBudget int                `yaml:"default_token_budget" json:"default_token_budget"`
	LanguageWeights    map[string]float64 `yaml:"language_weights" json:"language_weights"`
}

// PackingConfig configures the Packing Engine's default profile.
type PackingConfig struct {
	Profile          string  `yaml:"profile" json:"profile"`
	CapsuleMaxTokens int     `yaml:"capsule_max_tokens" json:"capsule_max_tokens"`
	TruncateStrategy string  `yaml:"truncate_strategy" json:"truncate_strategy"`
	MustHaveShare    float64 `yaml:"must_have_share" json:"must_have_share"`
}

// RerankerConfig selects the default provider and fallback order for the
// Reranker Provider Bus.
type RerankerConfig struct {
	DefaultProvider string   `yaml:"default_provider" json:"default_provider"`
	FallbackOrder   []string `yaml:"fallback_order" json:"fallback_order"`
	TopN            int      `yaml:"top_n" json:"top_n"`
}

// LearningConfig configures the offline Outcome Analyzer / Tuner run.
type LearningConfig struct {
	WindowDays      int  `yaml:"window_days" json:"window_days"`
	MinSignals      int  `yaml:"min_signals" json:"min_signals"`
	DryRunByDefault bool `yaml:"dry_run_by_default" json:"dry_run_by_default"`
}

// ReliabilityConfig configures the Reliability Layer's circuit breaker and
// bulkhead defaults for pipeline dependencies.
type ReliabilityConfig struct {
	MaxFailures   int `yaml:"max_failures" json:"max_failures"`
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

// DefaultPipelineConfig holds the built-in defaults (the 300ms generator
// timeout lives in internal/candidates; this covers the knobs that are
// genuinely user-tunable).
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Policy: PolicyConfig{
			DefaultTokenBudget: 8000,
			LanguageWeights:    map[string]float64{},
		},
		Packing: PackingConfig{
			Profile:          "default",
			CapsuleMaxTokens: 120,
			TruncateStrategy: "smart",
			MustHaveShare:    0.40,
		},
		Reranker: RerankerConfig{
			DefaultProvider: "rrf_fusion",
			FallbackOrder:   []string{"local_cross_encoder", "rrf_fusion"},
			TopN:            50,
		},
		Learning: LearningConfig{
			WindowDays:      30,
			MinSignals:      10,
			DryRunByDefault: false,
		},
		Reliability: ReliabilityConfig{
			MaxFailures:   5,
			MaxConcurrent: 8,
		},
	}
}

// Validate checks PipelineConfig's tunables against their allowed ranges.
func (p PipelineConfig) Validate() error {
	if p.Policy.DefaultTokenBudget <= 0 {
		return fmt.Errorf("policy.default_token_budget must be positive, got %d", p.Policy.DefaultTokenBudget)
	}
	if p.Packing.MustHaveShare < 0 || p.Packing.MustHaveShare > 1 {
		return fmt.Errorf("packing.must_have_share must be between 0 and 1, got %f", p.Packing.MustHaveShare)
	}
	if p.Reranker.TopN <= 0 {
		return fmt.Errorf("reranker.top_n must be positive, got %d", p.Reranker.TopN)
	}
	if p.Learning.WindowDays <= 0 {
		return fmt.Errorf("learning.window_days must be positive, got %d", p.Learning.WindowDays)
	}
	if p.Learning.MinSignals < 0 {
		return fmt.Errorf("learning.min_signals must be non-negative, got %d", p.Learning.MinSignals)
	}
	if p.Reliability.MaxFailures <= 0 {
		return fmt.Errorf("reliability.max_failures must be positive, got %d", p.Reliability.MaxFailures)
	}
	if p.Reliability.MaxConcurrent <= 0 {
		return fmt.Errorf("reliability.max_concurrent must be positive, got %d", p.Reliability.MaxConcurrent)
	}
	return nil
}
