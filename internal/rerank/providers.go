package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pampax-dev/pampax/internal/seedmix"
)

// Provider names.
const (
	ProviderLocalCrossEncoder = "local_cross_encoder"
	ProviderAPICohere         = "api_cohere"
	ProviderAPIVoyage         = "api_voyage"
	ProviderRRFFusion         = "rrf_fusion"
	ProviderMock              = "mock"
)

// httpClient is the subset of *http.Client every HTTP-backed provider
// needs, narrowed so tests can substitute a fake round tripper.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// --- local_cross_encoder -----------------------------------------------

// crossEncoderRequest/crossEncoderResponse mirror the MLX bridge's
// /rerank wire contract.
type crossEncoderRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type crossEncoderResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// LocalCrossEncoder reranks via an HTTP bridge to a local
// cross-encoder model server (the MLX sidecar internal/embed's MLX
// embedder also talks to).
type LocalCrossEncoder struct {
	endpoint string
	model    string
	client   httpClient
}

// DefaultCrossEncoderEndpoint/Model match the MLX reranker bridge
// defaults.
const (
	DefaultCrossEncoderEndpoint = "http://localhost:9659"
	DefaultCrossEncoderModel    = "reranker-small"
)

// NewLocalCrossEncoder builds a provider against endpoint (defaulting to
// DefaultCrossEncoderEndpoint, overridable via PAMPAX_RERANK_ENDPOINT).
func NewLocalCrossEncoder(endpoint, model string) *LocalCrossEncoder {
	if endpoint == "" {
		endpoint = os.Getenv("PAMPAX_RERANK_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = DefaultCrossEncoderEndpoint
	}
	if model == "" {
		model = DefaultCrossEncoderModel
	}
	return &LocalCrossEncoder{
		endpoint: endpoint,
		model:    model,
		client:   newHTTPClient(DefaultTimeout),
	}
}

func (p *LocalCrossEncoder) Name() string     { return ProviderLocalCrossEncoder }
func (p *LocalCrossEncoder) Models() []string { return []string{p.model} }

func (p *LocalCrossEncoder) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *LocalCrossEncoder) Rerank(ctx context.Context, query string, documents []Document) ([]Item, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.Content
	}

	body, err := json.Marshal(crossEncoderRequest{Query: query, Documents: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal cross-encoder request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cross-encoder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cross-encoder rerank failed (status %d): %s", resp.StatusCode, string(b))
	}

	var out crossEncoderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cross-encoder response: %w", err)
	}

	items := make([]Item, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		items = append(items, Item{DocRef: documents[r.Index].DocRef, Score: r.Score})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

// --- api_cohere ----------------------------------------------------------

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// CohereReranker calls Cohere's hosted rerank endpoint.
type CohereReranker struct {
	apiKey   string
	endpoint string
	model    string
	client   httpClient
}

const (
	DefaultCohereEndpoint = "https://api.cohere.ai/v1/rerank"
	DefaultCohereModel    = "rerank-english-v3.0"
)

// NewCohereReranker builds a provider reading its API key from
// PAMPAX_COHERE_API_KEY when apiKey is empty, the same env-var-first
// convention internal/embed/factory.go uses.
func NewCohereReranker(apiKey, model string) *CohereReranker {
	if apiKey == "" {
		apiKey = os.Getenv("PAMPAX_COHERE_API_KEY")
	}
	if model == "" {
		model = DefaultCohereModel
	}
	return &CohereReranker{apiKey: apiKey, endpoint: DefaultCohereEndpoint, model: model, client: newHTTPClient(DefaultTimeout)}
}

func (p *CohereReranker) Name() string     { return ProviderAPICohere }
func (p *CohereReranker) Models() []string { return []string{p.model} }

func (p *CohereReranker) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *CohereReranker) Rerank(ctx context.Context, query string, documents []Document) ([]Item, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("api_cohere: no API key configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.Content
	}

	body, err := json.Marshal(cohereRequest{Model: p.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal cohere request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cohere request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cohere rerank failed (status %d): %s", resp.StatusCode, string(b))
	}

	var out cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}

	items := make([]Item, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		items = append(items, Item{DocRef: documents[r.Index].DocRef, Score: r.RelevanceScore})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

// --- api_voyage ------------------------------------------------------------

type voyageRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
}

// VoyageReranker calls Voyage AI's hosted rerank endpoint.
type VoyageReranker struct {
	apiKey   string
	endpoint string
	model    string
	client   httpClient
}

const (
	DefaultVoyageEndpoint = "https://api.voyageai.com/v1/rerank"
	DefaultVoyageModel    = "rerank-2"
)

// NewVoyageReranker builds a provider reading its API key from
// PAMPAX_VOYAGE_API_KEY when apiKey is empty.
func NewVoyageReranker(apiKey, model string) *VoyageReranker {
	if apiKey == "" {
		apiKey = os.Getenv("PAMPAX_VOYAGE_API_KEY")
	}
	if model == "" {
		model = DefaultVoyageModel
	}
	return &VoyageReranker{apiKey: apiKey, endpoint: DefaultVoyageEndpoint, model: model, client: newHTTPClient(DefaultTimeout)}
}

func (p *VoyageReranker) Name() string     { return ProviderAPIVoyage }
func (p *VoyageReranker) Models() []string { return []string{p.model} }

func (p *VoyageReranker) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

func (p *VoyageReranker) Rerank(ctx context.Context, query string, documents []Document) ([]Item, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("api_voyage: no API key configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.Content
	}

	body, err := json.Marshal(voyageRequest{Model: p.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal voyage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build voyage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("voyage rerank failed (status %d): %s", resp.StatusCode, string(b))
	}

	var out voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voyage response: %w", err)
	}

	items := make([]Item, 0, len(out.Data))
	for _, r := range out.Data {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		items = append(items, Item{DocRef: documents[r.Index].DocRef, Score: r.RelevanceScore})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

// --- rrf_fusion ------------------------------------------------------------

// RRFFusionReranker reranks without calling any external model: it
// builds a second ranking from lexical term overlap against query and
// fuses it with the bundle's incoming (seed-mix) order using the same
// reciprocal-rank-fusion formula internal/seedmix uses to merge
// candidate sources, so "no rerank model configured" still produces a
// principled reordering instead of passing the bundle through untouched.
type RRFFusionReranker struct {
	k int
}

// NewRRFFusionReranker creates a provider using seedmix's smoothing
// constant.
func NewRRFFusionReranker() *RRFFusionReranker {
	return &RRFFusionReranker{k: seedmix.DefaultK}
}

func (p *RRFFusionReranker) Name() string     { return ProviderRRFFusion }
func (p *RRFFusionReranker) Models() []string { return nil }

func (p *RRFFusionReranker) IsAvailable(ctx context.Context) bool { return true }

func (p *RRFFusionReranker) Rerank(ctx context.Context, query string, documents []Document) ([]Item, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	terms := queryTerms(query)

	type scored struct {
		ref      string
		seedRank int
		lexRank  int
		lexScore float64
	}
	scoredDocs := make([]scored, len(documents))
	for i, d := range documents {
		scoredDocs[i] = scored{ref: d.DocRef, seedRank: i + 1, lexScore: lexicalOverlap(terms, d.Content)}
	}

	byLex := append([]scored(nil), scoredDocs...)
	sort.SliceStable(byLex, func(i, j int) bool { return byLex[i].lexScore > byLex[j].lexScore })
	lexRank := make(map[string]int, len(byLex))
	for i, s := range byLex {
		lexRank[s.ref] = i + 1
	}
	for i := range scoredDocs {
		scoredDocs[i].lexRank = lexRank[scoredDocs[i].ref]
	}

	items := make([]Item, len(scoredDocs))
	for i, s := range scoredDocs {
		rrf := 1.0/float64(p.k+s.seedRank) + 1.0/float64(p.k+s.lexRank)
		items[i] = Item{DocRef: s.ref, Score: rrf}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

func queryTerms(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
}

func lexicalOverlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0.0
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			hits++
		}
	}
	return hits / float64(len(terms))
}

// --- mock --------------------------------------------------------------

// MockReranker returns documents in a fixed, caller-supplied order (or
// unchanged input order when no override is given), for deterministic
// tests and as a safe last-resort provider that never fails.
type MockReranker struct {
	scores map[string]float64
}

// NewMockReranker creates a provider that scores by the given map, or by
// input order when scores is nil.
func NewMockReranker(scores map[string]float64) *MockReranker {
	return &MockReranker{scores: scores}
}

func (p *MockReranker) Name() string     { return ProviderMock }
func (p *MockReranker) Models() []string { return []string{"mock-v1"} }

func (p *MockReranker) IsAvailable(ctx context.Context) bool { return true }

func (p *MockReranker) Rerank(ctx context.Context, query string, documents []Document) ([]Item, error) {
	items := make([]Item, len(documents))
	for i, d := range documents {
		score, ok := p.scores[d.DocRef]
		if !ok {
			score = float64(len(documents) - i)
		}
		items[i] = Item{DocRef: d.DocRef, Score: score}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}
