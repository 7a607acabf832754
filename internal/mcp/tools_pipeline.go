package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pampax-dev/pampax/internal/packing"
	"github.com/pampax-dev/pampax/internal/pipeline"
	"github.com/pampax-dev/pampax/internal/rerank"
)

// AssembleInput defines the input schema for the assemble tool.
type AssembleInput struct {
	Query       string `json:"query" jsonschema:"the query to assemble a context bundle for"`
	TokenBudget int    `json:"token_budget,omitempty" jsonschema:"maximum tokens in the returned bundle"`
	Language    string `json:"language,omitempty" jsonschema:"filter by programming language"`
	Reranker    string `json:"reranker,omitempty" jsonschema:"rerank provider: local_cross_encoder, api_cohere, api_voyage, rrf_fusion, mock"`
}

// BundleItemOutput is one packed item in an assemble response.
type BundleItemOutput struct {
	FilePath string  `json:"file_path" jsonschema:"file path of the packed item"`
	Content  string  `json:"content" jsonschema:"packed content (full, capsule, or truncated)"`
	Strategy string  `json:"strategy" jsonschema:"how the item was packed: full, capsule, truncate, skipped"`
	Tier     string  `json:"tier" jsonschema:"budget tier the item landed in"`
	Score    float64 `json:"score" jsonschema:"fused relevance score"`
}

// AssembleOutput defines the output schema for the assemble tool.
type AssembleOutput struct {
	Intent           string             `json:"intent" jsonschema:"classified query intent"`
	Items            []BundleItemOutput `json:"items" jsonschema:"packed bundle items in final order"`
	BudgetTokens     int                `json:"budget_tokens" jsonschema:"token budget the bundle was packed under"`
	ActualTokens     int                `json:"actual_tokens" jsonschema:"tokens actually used"`
	DegradationLevel int                `json:"degradation_level" jsonschema:"0 when nothing was reduced; higher levels capsule or drop lower tiers"`
	StoppingReason   string             `json:"stopping_reason,omitempty" jsonschema:"why packing stopped early, if it did"`
	CacheHit         bool               `json:"cache_hit" jsonschema:"true when served from the signature cache"`
}

// RerankCandidateInput is one candidate passed to the rerank tool.
type RerankCandidateInput struct {
	ID      string `json:"id" jsonschema:"opaque candidate id returned to the caller"`
	Content string `json:"content" jsonschema:"candidate text to score against the query"`
}

// RerankInput defines the input schema for the rerank tool.
type RerankInput struct {
	Query      string                 `json:"query" jsonschema:"the query to rank candidates against"`
	Candidates []RerankCandidateInput `json:"candidates" jsonschema:"candidates to rerank"`
	Provider   string                 `json:"provider,omitempty" jsonschema:"rerank provider name; empty uses the configured default"`
	TopK       int                    `json:"top_k,omitempty" jsonschema:"maximum candidates to score, default 50"`
}

// RerankItemOutput is one ranked candidate.
type RerankItemOutput struct {
	ID    string  `json:"id" jsonschema:"candidate id"`
	Score float64 `json:"score" jsonschema:"provider relevance score"`
}

// RerankOutput defines the output schema for the rerank tool.
type RerankOutput struct {
	Items []RerankItemOutput `json:"items" jsonschema:"candidates in reranked order"`
}

// RememberInput defines the input schema for the remember tool.
type RememberInput struct {
	Kind    string   `json:"kind,omitempty" jsonschema:"note kind: decision, gotcha, preference, fact; default fact"`
	Content string   `json:"content" jsonschema:"the note to persist"`
	Tags    []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// RememberOutput defines the output schema for the remember tool.
type RememberOutput struct {
	ID string `json:"id" jsonschema:"id of the stored memory item"`
}

// RememberQueryInput defines the input schema for the remember_query tool.
type RememberQueryInput struct {
	Query string `json:"query" jsonschema:"full-text query over stored memory items"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum items to return, default 20"`
}

// MemoryItemOutput is one stored memory item.
type MemoryItemOutput struct {
	ID      string `json:"id" jsonschema:"memory item id"`
	Kind    string `json:"kind" jsonschema:"note kind"`
	Content string `json:"content" jsonschema:"note content"`
}

// RememberQueryOutput defines the output schema for the remember_query tool.
type RememberQueryOutput struct {
	Items []MemoryItemOutput `json:"items" jsonschema:"matching memory items"`
}

// ForgetInput defines the input schema for the forget tool.
type ForgetInput struct {
	ID string `json:"id" jsonschema:"memory item id to delete"`
}

// ForgetOutput defines the output schema for the forget tool.
type ForgetOutput struct {
	Deleted bool `json:"deleted" jsonschema:"true when the item was removed"`
}

// PinSpanInput defines the input schema for the pin_span tool.
type PinSpanInput struct {
	SpanID string `json:"span_id" jsonschema:"span id to pin as always-relevant context"`
	Note   string `json:"note,omitempty" jsonschema:"optional label for the pin"`
}

// LearnInput defines the input schema for the learn tool.
type LearnInput struct {
	FromDays int  `json:"from_days,omitempty" jsonschema:"how many days of interactions to analyze, default 30"`
	DryRun   bool `json:"dry_run,omitempty" jsonschema:"compute updates without persisting them"`
}

// LearnIntentOutput is one intent's tuning outcome.
type LearnIntentOutput struct {
	Intent     string  `json:"intent" jsonschema:"intent the weights were tuned for"`
	Signals    int     `json:"signals" jsonschema:"outcome signals available for this intent"`
	Skipped    bool    `json:"skipped" jsonschema:"true when below the minimum signal count"`
	Iterations int     `json:"iterations" jsonschema:"gradient descent iterations run"`
	FinalLoss  float64 `json:"final_loss" jsonschema:"1 - satisfaction_rate after tuning"`
}

// LearnOutput defines the output schema for the learn tool.
type LearnOutput struct {
	Interactions     int                 `json:"interactions" jsonschema:"interactions analyzed"`
	SatisfactionRate float64             `json:"satisfaction_rate" jsonschema:"overall satisfaction rate over the window"`
	Intents          []LearnIntentOutput `json:"intents" jsonschema:"per-intent tuning results"`
}

// HealthInput defines the input schema for the health tool.
type HealthInput struct{}

// HealthOutput defines the output schema for the health tool.
type HealthOutput struct {
	DegradationLevel string          `json:"degradation_level" jsonschema:"current graceful-degradation level"`
	StoreReachable   bool            `json:"store_reachable" jsonschema:"true when the metadata store answers queries"`
	SigCacheHitRate  float64         `json:"sigcache_hit_rate" jsonschema:"signature cache hit rate"`
	RerankProviders  map[string]bool `json:"rerank_providers" jsonschema:"availability per registered rerank provider"`
}

// registerPipelineTools exposes the retrieval pipeline's operations
// (assemble, rerank, remember, learn, health) alongside the search tools.
func (s *Server) registerPipelineTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "assemble",
		Description: "Build a token-budgeted context bundle for a task. Classifies intent, fans out lexical/semantic/memory/symbol candidates, expands the code graph, and packs the best evidence under the budget. Use when you need working context, not just a hit list.",
	}, s.mcpAssembleHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rerank",
		Description: "Rerank a list of candidate snippets against a query using the configured provider (local cross-encoder, hosted API, or RRF fusion).",
	}, s.mcpRerankHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remember",
		Description: "Persist a durable note (decision, gotcha, preference) that future searches will surface as memory evidence.",
	}, s.mcpRememberHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remember_query",
		Description: "Search previously stored notes and pins.",
	}, s.mcpRememberQueryHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forget",
		Description: "Delete a stored note or pin by id.",
	}, s.mcpForgetHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pin_span",
		Description: "Pin a code span as always-relevant context for this project.",
	}, s.mcpPinSpanHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "learn",
		Description: "Run the offline learner over recent interactions: derive satisfaction metrics and retune per-intent seed weights within bounds.",
	}, s.mcpLearnHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health",
		Description: "Report pipeline health: degradation level, store reachability, cache hit rates, rerank provider availability.",
	}, s.mcpHealthHandler)
	s.logger.Info("Pipeline tools registered", slog.Int("count", 8))
}

func (s *Server) mcpAssembleHandler(ctx context.Context, req *mcp.CallToolRequest, input AssembleInput) (
	*mcp.CallToolResult,
	AssembleOutput,
	error,
) {
	if input.Query == "" {
		return nil, AssembleOutput{}, NewInvalidParamsError("query parameter is required")
	}

	resp, err := s.pipeline.Search(ctx, pipeline.SearchRequest{
		ProjectID:   s.projectID,
		Query:       input.Query,
		TokenBudget: input.TokenBudget,
		Language:    input.Language,
		Reranker:    input.Reranker,
	})
	if err != nil {
		return nil, AssembleOutput{}, MapError(err)
	}

	out := AssembleOutput{
		Intent:           string(resp.Intent.Intent),
		BudgetTokens:     resp.Bundle.TokenReport.Budget,
		ActualTokens:     resp.Bundle.TokenReport.Actual,
		DegradationLevel: resp.Bundle.TokenReport.DegradationLevel,
		StoppingReason:   resp.Bundle.StoppingReason,
		CacheHit:         resp.CacheHit,
	}
	for _, item := range resp.Bundle.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		out.Items = append(out.Items, BundleItemOutput{
			FilePath: item.Candidate.FilePath,
			Content:  item.Content,
			Strategy: string(item.Strategy),
			Tier:     string(item.Tier),
			Score:    item.Candidate.Score,
		})
	}
	return nil, out, nil
}

func (s *Server) mcpRerankHandler(ctx context.Context, req *mcp.CallToolRequest, input RerankInput) (
	*mcp.CallToolResult,
	RerankOutput,
	error,
) {
	if input.Query == "" {
		return nil, RerankOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if len(input.Candidates) == 0 {
		return nil, RerankOutput{}, NewInvalidParamsError("candidates must not be empty")
	}

	docs := make([]rerank.Document, len(input.Candidates))
	for i, c := range input.Candidates {
		docs[i] = rerank.Document{DocRef: c.ID, Content: c.Content}
	}

	items, err := s.pipeline.RerankBus().Execute(ctx, input.Provider, input.Query, docs, input.TopK)
	if err != nil {
		return nil, RerankOutput{}, MapError(err)
	}

	out := RerankOutput{Items: make([]RerankItemOutput, len(items))}
	for i, item := range items {
		out.Items[i] = RerankItemOutput{ID: item.DocRef, Score: item.Score}
	}
	return nil, out, nil
}

func (s *Server) mcpRememberHandler(ctx context.Context, req *mcp.CallToolRequest, input RememberInput) (
	*mcp.CallToolResult,
	RememberOutput,
	error,
) {
	if input.Content == "" {
		return nil, RememberOutput{}, NewInvalidParamsError("content parameter is required")
	}
	kind := input.Kind
	if kind == "" {
		kind = "fact"
	}

	item, err := s.pipeline.RememberCreate(ctx, s.projectID, kind, input.Content, input.Tags)
	if err != nil {
		return nil, RememberOutput{}, MapError(err)
	}
	return nil, RememberOutput{ID: item.ID}, nil
}

func (s *Server) mcpRememberQueryHandler(ctx context.Context, req *mcp.CallToolRequest, input RememberQueryInput) (
	*mcp.CallToolResult,
	RememberQueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, RememberQueryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	items, err := s.pipeline.RememberQuery(ctx, s.projectID, input.Query, input.Limit)
	if err != nil {
		return nil, RememberQueryOutput{}, MapError(err)
	}

	out := RememberQueryOutput{Items: make([]MemoryItemOutput, len(items))}
	for i, item := range items {
		out.Items[i] = MemoryItemOutput{ID: item.ID, Kind: item.Kind, Content: item.Content}
	}
	return nil, out, nil
}

func (s *Server) mcpForgetHandler(ctx context.Context, req *mcp.CallToolRequest, input ForgetInput) (
	*mcp.CallToolResult,
	ForgetOutput,
	error,
) {
	if input.ID == "" {
		return nil, ForgetOutput{}, NewInvalidParamsError("id parameter is required")
	}
	if err := s.pipeline.Forget(ctx, input.ID); err != nil {
		return nil, ForgetOutput{}, MapError(err)
	}
	return nil, ForgetOutput{Deleted: true}, nil
}

func (s *Server) mcpPinSpanHandler(ctx context.Context, req *mcp.CallToolRequest, input PinSpanInput) (
	*mcp.CallToolResult,
	RememberOutput,
	error,
) {
	if input.SpanID == "" {
		return nil, RememberOutput{}, NewInvalidParamsError("span_id parameter is required")
	}
	item, err := s.pipeline.PinSpan(ctx, s.projectID, input.SpanID, input.Note)
	if err != nil {
		return nil, RememberOutput{}, MapError(err)
	}
	return nil, RememberOutput{ID: item.ID}, nil
}

func (s *Server) mcpLearnHandler(ctx context.Context, req *mcp.CallToolRequest, input LearnInput) (
	*mcp.CallToolResult,
	LearnOutput,
	error,
) {
	days := input.FromDays
	if days <= 0 {
		days = 30
	}

	result, err := s.pipeline.Learn(ctx, s.projectID, days, input.DryRun)
	if err != nil {
		return nil, LearnOutput{}, MapError(err)
	}

	out := LearnOutput{
		Interactions:     result.Outcome.Overall.Interactions,
		SatisfactionRate: result.Outcome.Overall.Rate,
	}
	if result.Tuning != nil {
		for _, ir := range result.Tuning.Intents {
			out.Intents = append(out.Intents, LearnIntentOutput{
				Intent:     ir.Intent,
				Signals:    ir.Signals,
				Skipped:    ir.Skipped,
				Iterations: ir.Iterations,
				FinalLoss:  ir.FinalLoss,
			})
		}
	}
	return nil, out, nil
}

func (s *Server) mcpHealthHandler(ctx context.Context, req *mcp.CallToolRequest, input HealthInput) (
	*mcp.CallToolResult,
	HealthOutput,
	error,
) {
	report := s.pipeline.Health(ctx)
	return nil, HealthOutput{
		DegradationLevel: report.DegradationLevel.String(),
		StoreReachable:   report.StoreReachable,
		SigCacheHitRate:  report.SigCache.HitRate,
		RerankProviders:  report.RerankProviders,
	}, nil
}
