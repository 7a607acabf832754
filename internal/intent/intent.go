// Package intent classifies a query into one of five intents the policy
// gate uses to pick seed weights and expansion depth: weighted
// compiled-regex batteries score each intent, and entity extraction
// pulls out the identifiers, routes, and error codes the symbol
// generator can resolve directly.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	pxerrors "github.com/pampax-dev/pampax/internal/errors"
)

// Intent is one of the five query categories the policy gate branches on.
type Intent string

const (
	IntentSymbol   Intent = "symbol"
	IntentConfig   Intent = "config"
	IntentAPI      Intent = "api"
	IntentIncident Intent = "incident"
	IntentSearch   Intent = "search"
)

// DefaultThreshold is the minimum confidence an intent must clear to be
// chosen over the search fallback.
const DefaultThreshold = 0.2

// Entity is a span of the query recognized as a symbol name, file
// extension, route template, or environment variable reference.
type Entity struct {
	Kind  string // "identifier", "extension", "route", "env_var", "error_code"
	Value string
}

// Result is the output of Classify.
type Result struct {
	Intent     Intent
	Confidence float64
	Entities   []Entity
	Scores     map[Intent]float64
}

// matcher tests one signal within an intent's pattern battery. match
// reports whether the signal fired and whether it is exact (the whole
// query, not a substring) — exact matches earn the classifier's bonus.
type matcher struct {
	name  string
	exact bool
	re    *regexp.Regexp
}

func (m matcher) match(query string) bool {
	return m.re.MatchString(query)
}

var (
	identifierCamel   = regexp.MustCompile(`[a-z]+([A-Z][a-z0-9]*)+`)
	identifierPascal  = regexp.MustCompile(`([A-Z][a-z0-9]*){2,}`)
	identifierSnake   = regexp.MustCompile(`[a-z]+(_[a-z0-9]+)+`)
	identifierScream  = regexp.MustCompile(`[A-Z]+(_[A-Z0-9]+)+`)
	fileExtPattern    = regexp.MustCompile(`(?i)\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|css|scss|html|rs|java|kt|c|cpp|h|hpp|rb|php|swift|sh|bash|zsh|env|ini|conf)\b`)
	envVarPattern     = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(_[A-Z0-9]+)+\b`)
	routePattern      = regexp.MustCompile(`/[\w\-]+(/[\w\-:{}]+)*`)
	httpVerbPattern   = regexp.MustCompile(`(?i)\b(GET|POST|PUT|PATCH|DELETE)\b`)
	errorCodePattern  = regexp.MustCompile(`(?i)\b(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)\b`)
	stackFramePattern = regexp.MustCompile(`(?i)\b(at |traceback|stack trace|goroutine \d+)\b`)
)

// symbolMatchers fire on identifier shapes and declaration vocabulary.
var symbolMatchers = []matcher{
	{"camelCase", true, identifierCamel},
	{"PascalCase", true, identifierPascal},
	{"snake_case", true, identifierSnake},
	{"func_keyword", false, regexp.MustCompile(`(?i)\b(func|function|def|method|class|struct|interface|type)\b`)},
	{"definition_phrase", false, regexp.MustCompile(`(?i)\b(definition of|where is|declared|implements?)\b`)},
}

var configMatchers = []matcher{
	{"file_ext", true, fileExtPattern},
	{"env_var", true, envVarPattern},
	{"config_word", false, regexp.MustCompile(`(?i)\b(config|setting|option|flag|environment variable|\.env|yaml|toml)\b`)},
}

var apiMatchers = []matcher{
	{"http_verb", false, httpVerbPattern},
	{"route", true, routePattern},
	{"api_word", false, regexp.MustCompile(`(?i)\b(endpoint|handler|route|api|rest|controller|middleware)\b`)},
}

var incidentMatchers = []matcher{
	{"error_code", true, errorCodePattern},
	{"stack_frame", false, stackFramePattern},
	{"incident_word", false, regexp.MustCompile(`(?i)\b(error|exception|crash|panic|fail(ed|ure)?|bug|incident|outage|regression)\b`)},
}

var matchersByIntent = map[Intent][]matcher{
	IntentSymbol:   symbolMatchers,
	IntentConfig:   configMatchers,
	IntentAPI:      apiMatchers,
	IntentIncident: incidentMatchers,
}

// scoreOrder is iterated for ties — earlier intents win, matching the
// matchers' specificity (symbol identifiers are the narrowest signal).
var scoreOrder = []Intent{IntentIncident, IntentAPI, IntentConfig, IntentSymbol}

// Classifier classifies queries into the five-way intent taxonomy.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a classifier using DefaultThreshold.
func NewClassifier() *Classifier {
	return &Classifier{threshold: DefaultThreshold}
}

// NewClassifierWithThreshold creates a classifier with a custom
// confidence threshold.
func NewClassifierWithThreshold(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify returns the intent, confidence, and extracted entities for a
// query. An empty or whitespace-only query is an InvalidInput error.
func (c *Classifier) Classify(query string) (Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{}, pxerrors.New(pxerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	scores := make(map[Intent]float64, len(matchersByIntent))
	for in, matchers := range matchersByIntent {
		scores[in] = c.score(trimmed, matchers)
	}

	best := IntentSearch
	bestScore := 0.0
	for _, in := range scoreOrder {
		s := scores[in]
		if s > bestScore {
			bestScore = s
			best = in
		}
	}

	if bestScore <= c.threshold {
		best = IntentSearch
		bestScore = scores[IntentSearch]
	}

	return Result{
		Intent:     best,
		Confidence: clamp01(bestScore),
		Entities:   extractEntities(trimmed),
		Scores:     scores,
	}, nil
}

// score computes an intent's confidence: base match ratio over the
// battery, +0.2 if any matcher fired on the whole query (exact), +0.1 for
// each additional distinct matcher that fired beyond the first, capped
// at 1.0.
func (c *Classifier) score(query string, matchers []matcher) float64 {
	if len(matchers) == 0 {
		return 0
	}

	var fired int
	var exact bool
	for _, m := range matchers {
		if !m.match(query) {
			continue
		}
		fired++
		if m.exact && strings.TrimSpace(query) == strings.TrimSpace(findMatch(m.re, query)) {
			exact = true
		}
	}
	if fired == 0 {
		return 0
	}

	ratio := float64(fired) / float64(len(matchers))
	score := ratio
	if exact {
		score += 0.2
	}
	if fired > 1 {
		score += 0.1 * float64(fired-1)
	}
	return clamp01(score)
}

func findMatch(re *regexp.Regexp, query string) string {
	return re.FindString(query)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractEntities pulls identifier, extension, route, env-var, and
// error-code spans out of the query for downstream candidate generators
// to use as literal lookup keys.
func extractEntities(query string) []Entity {
	var entities []Entity

	for _, m := range identifierCamel.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "identifier", Value: m})
	}
	for _, m := range identifierPascal.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "identifier", Value: m})
	}
	for _, m := range identifierSnake.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "identifier", Value: m})
	}
	for _, m := range fileExtPattern.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "extension", Value: strings.ToLower(m)})
	}
	for _, m := range envVarPattern.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "env_var", Value: m})
	}
	for _, m := range routePattern.FindAllString(query, -1) {
		if len(m) > 1 {
			entities = append(entities, Entity{Kind: "route", Value: m})
		}
	}
	for _, m := range errorCodePattern.FindAllString(query, -1) {
		entities = append(entities, Entity{Kind: "error_code", Value: m})
	}

	return dedupeEntities(entities)
}

func dedupeEntities(entities []Entity) []Entity {
	seen := make(map[string]bool, len(entities))
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		key := e.Kind + ":" + e.Value
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// confidenceBucket buckets confidence into coarse strings for cache keys
// (seed-mix and signature caches key on this rather than the raw float).
func confidenceBucket(confidence float64) string {
	return strconv.Itoa(int(confidence*10)) + "/10"
}
