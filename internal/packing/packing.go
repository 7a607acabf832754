// Package packing assembles a ranked candidate list into a token-budget
// respecting Bundle. Content classification uses path/extension
// heuristics (test directories, config extensions) plus the span kind;
// capsule extraction reuses the pieces internal/chunk/extractor.go
// already produces per symbol (Signature, DocComment).
package packing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pampax-dev/pampax/internal/intent"
	"github.com/pampax-dev/pampax/internal/tokenizer"
)

// Kind classifies a candidate's content for tier promotion rules.
type Kind string

const (
	KindTests    Kind = "tests"
	KindCode     Kind = "code"
	KindComments Kind = "comments"
	KindExamples Kind = "examples"
	KindConfig   Kind = "config"
	KindDocs     Kind = "docs"
)

// Tier is a budget bucket, ordered from highest to lowest priority.
type Tier string

const (
	TierMustHave      Tier = "must_have"
	TierImportant     Tier = "important"
	TierSupplementary Tier = "supplementary"
	TierOptional      Tier = "optional"
	TierReserve       Tier = "reserve"
)

var tierOrder = []Tier{TierMustHave, TierImportant, TierSupplementary, TierOptional, TierReserve}

// Profile specifies how a token budget splits across tiers and how
// capsules/truncation behave. Shares must sum to <= 1.0; the remainder
// implicitly widens the reserve tier.
type Profile struct {
	Name             string
	TierShare        map[Tier]float64
	CapsuleMaxTokens int
	TruncateStrategy string // "head" | "tail" | "middle" | "smart"
	CapsuleKeyLines  int    // max key-line excerpts in a capsule (1-3)
}

// DefaultProfile is the default tier split: most of the
// budget goes to must-have/important content, a modest supplementary
// slice, a thin optional slice, and a small reserve.
func DefaultProfile() Profile {
	return Profile{
		Name: "default",
		TierShare: map[Tier]float64{
			TierMustHave:      0.40,
			TierImportant:     0.30,
			TierSupplementary: 0.15,
			TierOptional:      0.10,
			TierReserve:       0.05,
		},
		CapsuleMaxTokens: 120,
		TruncateStrategy: "smart",
		CapsuleKeyLines:  3,
	}
}

// Candidate is one item the packing engine may place into the Bundle.
type Candidate struct {
	ChunkID    string
	Score      float64
	Kind       Kind
	FilePath   string
	StartLine  int
	EndLine    int
	Content    string
	Signature  string
	DocComment string
	KeyLines   []string
}

// Strategy records how a candidate was actually emitted.
type Strategy string

const (
	StrategyFull     Strategy = "full"
	StrategyCapsule  Strategy = "capsule"
	StrategyTruncate Strategy = "truncate"
	StrategySkipped  Strategy = "skipped"
)

// PackedItem is one candidate's final placement in the Bundle.
type PackedItem struct {
	Candidate        Candidate
	Tier             Tier
	Strategy         Strategy
	Content          string
	OriginalTokens   int
	PackedTokens     int
	DegradationLevel int
}

// TokenReport summarizes budget usage for the Bundle.
type TokenReport struct {
	Budget           int
	EstUsed          int
	Actual           int
	Model            string
	PerTier          map[Tier]int
	DegradationLevel int
}

// Bundle is the Packing Engine's output.
type Bundle struct {
	Items          []PackedItem
	TokenReport    TokenReport
	StoppingReason string
}

// Engine packs candidates into tiers and emits a Bundle under budget.
type Engine struct {
	tokenizer *tokenizer.Factory
}

// NewEngine creates a packing Engine.
func NewEngine(tf *tokenizer.Factory) *Engine {
	return &Engine{tokenizer: tf}
}

// ClassifyKind assigns a Kind using the same path/extension heuristics
// the search options apply for test/implementation/wrapper path boosts.
func ClassifyKind(filePath string, spanKind string) Kind {
	lower := strings.ToLower(filePath)
	switch {
	case strings.Contains(lower, "_test.") || strings.Contains(lower, "/test/") || strings.HasPrefix(lower, "test/"):
		return KindTests
	case strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".rst") || strings.HasSuffix(lower, ".txt"):
		return KindDocs
	case strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".toml") ||
		strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".ini") || strings.HasSuffix(lower, ".env"):
		return KindConfig
	case strings.Contains(lower, "example") || strings.Contains(lower, "/examples/"):
		return KindExamples
	case spanKind == "comment" || spanKind == "doc":
		return KindComments
	default:
		return KindCode
	}
}

// assignTiers buckets candidates (already sorted by score desc) into
// tiers: score at or above the 90th percentile goes to must-have;
// everything else distributes proportionally through the remaining
// tiers by rank. Intent-specific promotion then moves specific kinds up
// at most one tier (e.g. tests for incident queries).
func assignTiers(candidates []Candidate, in intent.Intent) map[string]Tier {
	tiers := make(map[string]Tier, len(candidates))
	if len(candidates) == 0 {
		return tiers
	}

	p90Index := int(float64(len(candidates)) * 0.1)
	for i, c := range candidates {
		switch {
		case i <= p90Index:
			tiers[c.ChunkID] = TierMustHave
		case i < len(candidates)*4/10:
			tiers[c.ChunkID] = TierImportant
		case i < len(candidates)*7/10:
			tiers[c.ChunkID] = TierSupplementary
		case i < len(candidates)*9/10:
			tiers[c.ChunkID] = TierOptional
		default:
			tiers[c.ChunkID] = TierReserve
		}
	}

	promote := promotedKindFor(in)
	if promote == "" {
		return tiers
	}
	for _, c := range candidates {
		if c.Kind != promote {
			continue
		}
		tiers[c.ChunkID] = promoteOneTier(tiers[c.ChunkID])
	}
	return tiers
}

// promotedKindFor returns the content kind this intent boosts by one
// tier (tests for incident, config for config, docs for search).
func promotedKindFor(in intent.Intent) Kind {
	switch in {
	case intent.IntentIncident:
		return KindTests
	case intent.IntentAPI:
		return KindExamples
	default:
		return ""
	}
}

func promoteOneTier(t Tier) Tier {
	for i, candidate := range tierOrder {
		if candidate == t && i > 0 {
			return tierOrder[i-1]
		}
	}
	return t
}

// Pack iterates tiers in priority order and, within each tier, items by
// score desc, emitting full content when it fits, a capsule when it
// doesn't, a truncation when even a capsule doesn't fit the tier's
// remaining share, or skipping (never for must-have).
func (e *Engine) Pack(candidates []Candidate, in intent.Intent, profile Profile, modelID string, budget int) Bundle {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	tierOf := assignTiers(sorted, in)
	byTier := make(map[Tier][]Candidate, len(tierOrder))
	for _, c := range sorted {
		t := tierOf[c.ChunkID]
		byTier[t] = append(byTier[t], c)
	}

	perTierBudget := make(map[Tier]int, len(tierOrder))
	for _, t := range tierOrder {
		perTierBudget[t] = int(float64(budget) * profile.TierShare[t])
	}

	degradation := 0
	var items []PackedItem
	perTierUsed := make(map[Tier]int, len(tierOrder))
	actual := 0
	var stoppingReason string

	for _, tier := range tierOrder {
		tierBudget := perTierBudget[tier]
		for _, c := range byTier[tier] {
			originalTokens := e.tokenizer.Count(modelID, c.Content)
			remaining := tierBudget - perTierUsed[tier]

			if remaining <= 0 && tier != TierMustHave {
				items = append(items, PackedItem{Candidate: c, Tier: tier, Strategy: StrategySkipped, DegradationLevel: degradation})
				continue
			}

			if originalTokens <= remaining {
				items = append(items, PackedItem{
					Candidate: c, Tier: tier, Strategy: StrategyFull, Content: c.Content,
					OriginalTokens: originalTokens, PackedTokens: originalTokens, DegradationLevel: degradation,
				})
				perTierUsed[tier] += originalTokens
				actual += originalTokens
				continue
			}

			capsule := BuildCapsule(c, profile)
			capsuleTokens := e.tokenizer.Count(modelID, capsule)
			if capsule != "" && (capsuleTokens <= remaining || (tier == TierMustHave && remaining <= 0)) {
				items = append(items, PackedItem{
					Candidate: c, Tier: tier, Strategy: StrategyCapsule, Content: capsule,
					OriginalTokens: originalTokens, PackedTokens: capsuleTokens, DegradationLevel: degradation,
				})
				perTierUsed[tier] += capsuleTokens
				actual += capsuleTokens
				continue
			}

			truncated := Truncate(c.Content, profile.TruncateStrategy, remaining, e.tokenizer, modelID)
			truncatedTokens := e.tokenizer.Count(modelID, truncated)
			if truncatedTokens <= remaining || tier == TierMustHave {
				items = append(items, PackedItem{
					Candidate: c, Tier: tier, Strategy: StrategyTruncate, Content: truncated,
					OriginalTokens: originalTokens, PackedTokens: truncatedTokens, DegradationLevel: degradation,
				})
				perTierUsed[tier] += truncatedTokens
				actual += truncatedTokens
				if tier == TierMustHave && truncatedTokens > remaining {
					degradation, stoppingReason = raiseDegradation(degradation)
				}
				continue
			}

			if tier == TierMustHave {
				degradation, stoppingReason = raiseDegradation(degradation)
			}
			items = append(items, PackedItem{Candidate: c, Tier: tier, Strategy: StrategySkipped, DegradationLevel: degradation})
		}
	}

	if actual > budget {
		items, actual, degradation = e.enforceBudget(items, actual, budget, modelID, perTierUsed, degradation)
	}
	if derived := derivedDegradation(items); derived > degradation {
		degradation = derived
	}
	if degradation > 0 || stoppingReason != "" {
		stoppingReason = fmt.Sprintf("budget pressure: used %d of %d tokens at degrade level %s",
			actual, budget, DegradeLevel(degradation).String())
	}

	return Bundle{
		Items: items,
		TokenReport: TokenReport{
			Budget: budget, EstUsed: actual, Actual: actual, Model: modelID,
			PerTier: intTierMap(perTierUsed), DegradationLevel: degradation,
		},
		StoppingReason: stoppingReason,
	}
}

// enforceBudget is the post-pass guaranteeing Actual never exceeds
// Budget: it drops emitted items from the lowest tier upward (never
// must-have), then, if must-have alone still overflows, reduces
// must-have items to bare signatures at the Emergency level.
func (e *Engine) enforceBudget(items []PackedItem, actual, budget int, modelID string, used map[Tier]int, degradation int) ([]PackedItem, int, int) {
	for i := len(tierOrder) - 1; i >= 1 && actual > budget; i-- {
		tier := tierOrder[i]
		for j := len(items) - 1; j >= 0 && actual > budget; j-- {
			if items[j].Tier != tier || items[j].Strategy == StrategySkipped {
				continue
			}
			actual -= items[j].PackedTokens
			used[tier] -= items[j].PackedTokens
			items[j].Strategy = StrategySkipped
			items[j].Content = ""
			items[j].PackedTokens = 0
			if degradation < int(DegradeDropLowTiers) {
				degradation = int(DegradeDropLowTiers)
			}
			items[j].DegradationLevel = degradation
		}
	}

	if actual > budget {
		degradation = int(DegradeEmergency)
		for j := range items {
			if items[j].Tier != TierMustHave || items[j].Strategy == StrategySkipped {
				continue
			}
			sig := items[j].Candidate.Signature
			if sig == "" {
				sig = firstLine(items[j].Content)
			}
			sigTokens := e.tokenizer.Count(modelID, sig)
			actual += sigTokens - items[j].PackedTokens
			used[TierMustHave] += sigTokens - items[j].PackedTokens
			items[j].Strategy = StrategyCapsule
			items[j].Content = sig
			items[j].PackedTokens = sigTokens
			items[j].DegradationLevel = degradation
		}
	}
	return items, actual, degradation
}

// derivedDegradation reports the level implied by what packing actually
// did: a capsule or truncation on an optional item is level 1, on a
// supplementary item level 2, on an important item level 3; dropping
// optional/supplementary items outright is level 4.
func derivedDegradation(items []PackedItem) int {
	level := 0
	bump := func(n int) {
		if n > level {
			level = n
		}
	}
	for _, item := range items {
		reduced := item.Strategy == StrategyCapsule || item.Strategy == StrategyTruncate
		switch item.Tier {
		case TierOptional, TierReserve:
			if reduced {
				bump(int(DegradeMildOptional))
			}
			if item.Strategy == StrategySkipped {
				bump(int(DegradeDropLowTiers))
			}
		case TierSupplementary:
			if reduced {
				bump(int(DegradeSupplementary))
			}
			if item.Strategy == StrategySkipped {
				bump(int(DegradeDropLowTiers))
			}
		case TierImportant:
			if reduced {
				bump(int(DegradeImportant))
			}
		}
	}
	return level
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func intTierMap(m map[Tier]int) map[Tier]int {
	out := make(map[Tier]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BuildCapsule reduces a candidate to signature + first doc paragraph +
// up to CapsuleKeyLines key-line excerpts, capped at CapsuleMaxTokens
// worth of characters as a rough proxy (exact token trimming happens via
// the tokenizer count check in Pack).
func BuildCapsule(c Candidate, profile Profile) string {
	var b strings.Builder
	if c.Signature != "" {
		b.WriteString(c.Signature)
		b.WriteString("\n")
	}
	if c.DocComment != "" {
		b.WriteString(firstParagraph(c.DocComment))
		b.WriteString("\n")
	}
	keyLines := c.KeyLines
	if len(keyLines) > profile.CapsuleKeyLines {
		keyLines = keyLines[:profile.CapsuleKeyLines]
	}
	for _, line := range keyLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	out := b.String()
	maxChars := profile.CapsuleMaxTokens * 4
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

func firstParagraph(doc string) string {
	parts := strings.SplitN(strings.TrimSpace(doc), "\n\n", 2)
	return parts[0]
}

// Truncate shortens content to fit budget tokens using the profile's
// declared strategy, preserving a marker so the caller can tell the
// content was cut.
func Truncate(content, strategy string, budgetTokens int, tf *tokenizer.Factory, modelID string) string {
	if budgetTokens <= 0 {
		return ""
	}
	if tf.Fits(modelID, content, budgetTokens) {
		return content
	}

	// Binary-search the largest prefix/suffix/middle window that fits,
	// since the tokenizer's ratio varies by model and a closed-form
	// character count would drift.
	runes := []rune(content)
	fits := func(s string) bool { return tf.Fits(modelID, s, budgetTokens) }

	switch strategy {
	case "tail":
		lo, hi := 0, len(runes)
		for lo < hi {
			mid := (lo + hi) / 2
			if fits("…" + string(runes[len(runes)-mid:])) {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo == 0 {
			return ""
		}
		return "…" + string(runes[len(runes)-(lo-1):])
	case "middle":
		half := len(runes) / 2
		lo, hi := 0, half
		for lo < hi {
			mid := (lo + hi) / 2
			candidate := string(runes[:mid]) + "…" + string(runes[len(runes)-mid:])
			if fits(candidate) {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo == 0 {
			return "…"
		}
		n := lo - 1
		return string(runes[:n]) + "…" + string(runes[len(runes)-n:])
	case "smart":
		lines := strings.Split(content, "\n")
		for n := len(lines); n > 0; n-- {
			candidate := strings.Join(lines[:n], "\n") + "\n…"
			if fits(candidate) {
				return candidate
			}
		}
		fallthrough
	default: // "head"
		lo, hi := 0, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if fits(string(runes[:mid]) + "…") {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		if lo == 0 {
			return ""
		}
		return string(runes[:lo]) + "…"
	}
}
