package candidates

import (
	"strings"
	"unicode"
)

// codeSynonyms bridges the vocabulary gap between how a user phrases a
// query and how code spells the same concept: cross-language keywords
// (func/def/fn), common abbreviations (req, ctx, cfg), and the retrieval
// domain's own terms. Natural-language keys map to code vocabulary, not
// the other way around.
var codeSynonyms = map[string][]string{
	// cross-language declaration keywords
	"function":  {"func", "method", "fn", "def", "Func"},
	"method":    {"func", "fn", "def", "function"},
	"func":      {"function", "method", "def", "fn"},
	"def":       {"func", "function", "method"},
	"class":     {"type", "struct", "interface", "Class"},
	"type":      {"class", "struct", "interface", "Type"},
	"struct":    {"class", "type", "Struct"},
	"interface": {"protocol", "trait", "Interface", "contract"},

	// error handling
	"error":     {"err", "Err", "Error", "exception", "failure"},
	"err":       {"error", "Error", "Err"},
	"exception": {"error", "err", "panic", "Exception"},
	"handler":   {"handle", "Handle", "Handler", "callback"},
	"retry":     {"Retry", "attempt", "backoff", "Backoff"},
	"panic":     {"Panic", "fatal", "crash", "abort"},

	// http / network
	"request":  {"req", "Req", "Request", "http"},
	"response": {"resp", "Resp", "Response", "reply"},
	"api":      {"API", "endpoint", "handler", "route"},
	"endpoint": {"handler", "route", "api", "path"},
	"server":   {"Server", "serve", "listener", "daemon"},
	"client":   {"Client", "conn", "connection"},

	// context / configuration
	"context":  {"ctx", "Ctx", "Context"},
	"ctx":      {"context", "Context"},
	"config":   {"cfg", "Cfg", "Config", "settings", "options"},
	"options":  {"opts", "Opts", "Options", "config"},
	"settings": {"config", "options", "Settings"},

	// storage
	"database":   {"db", "DB", "Database", "store"},
	"db":         {"database", "Database", "store"},
	"store":      {"Store", "storage", "database", "repository"},
	"repository": {"repo", "Repo", "Repository", "store"},
	"query":      {"Query", "search", "find", "select"},
	"insert":     {"Insert", "add", "create", "save"},
	"update":     {"Update", "modify", "edit", "change"},
	"delete":     {"Delete", "remove", "drop", "destroy"},

	// retrieval domain
	"search":    {"Search", "find", "query", "lookup", "retrieve"},
	"find":      {"Find", "search", "get", "lookup"},
	"index":     {"Index", "indexer", "indexing", "catalog"},
	"span":      {"Span", "symbol", "region", "chunk"},
	"chunk":     {"Chunk", "span", "segment", "block"},
	"bundle":    {"Bundle", "context", "pack", "capsule"},
	"intent":    {"Intent", "classify", "classifier", "query"},
	"rerank":    {"Rerank", "reranker", "rank", "score"},
	"embed":     {"Embed", "embedding", "embedder", "vector"},
	"embedding": {"Embedding", "embed", "vector", "Embedder"},
	"vector":    {"Vector", "embedding", "dense", "semantic"},
	"token":     {"Token", "tokenize", "tokenizer", "budget"},
	"parse":     {"Parse", "parser", "Parser", "parsing"},

	// common verbs
	"create": {"Create", "new", "make", "init"},
	"new":    {"New", "create", "make", "init"},
	"init":   {"Init", "initialize", "setup", "new"},
	"get":    {"Get", "fetch", "retrieve", "read", "load"},
	"set":    {"Set", "put", "assign", "write"},
	"read":   {"Read", "get", "load", "fetch"},
	"write":  {"Write", "save", "store", "put"},
	"load":   {"Load", "read", "get", "fetch"},
	"save":   {"Save", "write", "store", "persist"},
	"close":  {"Close", "shutdown", "stop", "cleanup"},
	"start":  {"Start", "begin", "run", "launch"},
	"stop":   {"Stop", "halt", "end", "close"},
	"run":    {"Run", "execute", "start", "process"},

	// testing
	"test":   {"Test", "testing", "check", "verify"},
	"mock":   {"Mock", "fake", "stub", "spy"},
	"assert": {"Assert", "expect", "require", "check"},

	// concurrency
	"goroutine": {"Goroutine", "async", "concurrent", "go"},
	"channel":   {"Channel", "chan", "Chan", "pipe"},
	"mutex":     {"Mutex", "lock", "Lock", "sync"},
	"lock":      {"Lock", "mutex", "Mutex", "sync"},

	// files / io
	"file":      {"File", "path", "filesystem", "io"},
	"path":      {"Path", "file", "filepath", "directory"},
	"directory": {"dir", "Dir", "Directory", "folder"},
	"reader":    {"Reader", "read", "input", "stream"},
	"writer":    {"Writer", "write", "output", "stream"},

	// logging
	"log":   {"Log", "logger", "Logger", "slog"},
	"debug": {"Debug", "trace", "verbose", "log"},
	"warn":  {"Warn", "warning", "Warning", "alert"},

	// natural language -> code
	"implementation": {"impl", "Impl", "implement"},
	"where":          {"location", "file", "path", "find"},
	"defined":        {"definition", "declare", "type"},
	"called":         {"call", "invoke", "execute"},
	"returns":        {"return", "output", "result"},
	"parameter":      {"param", "arg", "argument", "input"},
	"argument":       {"arg", "param", "parameter", "input"},
}

// QueryExpander widens a full-text query before it reaches the FTS
// index, so a natural-language phrasing still matches the identifiers
// and keywords actually present in code. Expansion keeps the original
// terms first (exact matches rank highest), then adds a bounded number
// of synonyms per term, then casing variants for identifier
// conventions.
type QueryExpander struct {
	synonyms      map[string][]string
	maxExpansions int
	includeCasing bool
}

// ExpanderOption configures a QueryExpander.
type ExpanderOption func(*QueryExpander)

// WithMaxExpansions bounds the synonyms added per query term.
func WithMaxExpansions(n int) ExpanderOption {
	return func(e *QueryExpander) { e.maxExpansions = n }
}

// WithCasingVariants toggles camel/upper/title casing variants.
func WithCasingVariants(enabled bool) ExpanderOption {
	return func(e *QueryExpander) { e.includeCasing = enabled }
}

// WithSynonyms merges extra synonym mappings into the built-in table.
func WithSynonyms(extra map[string][]string) ExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range extra {
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// NewQueryExpander creates an expander over the built-in code synonyms.
func NewQueryExpander(opts ...ExpanderOption) *QueryExpander {
	e := &QueryExpander{
		synonyms:      make(map[string][]string, len(codeSynonyms)),
		maxExpansions: 3,
		includeCasing: true,
	}
	for k, v := range codeSynonyms {
		e.synonyms[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns query widened with synonyms and casing variants,
// deduplicated case-insensitively, original terms first.
func (e *QueryExpander) Expand(query string) string {
	terms := splitQueryTerms(query)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]bool, len(terms))
	expanded := make([]string, 0, len(terms)*2)
	add := func(term string) {
		lower := strings.ToLower(term)
		if !seen[lower] {
			expanded = append(expanded, term)
			seen[lower] = true
		}
	}

	for _, term := range terms {
		add(term)
	}
	for _, term := range terms {
		added := 0
		for _, syn := range e.synonyms[strings.ToLower(term)] {
			if added >= e.maxExpansions {
				break
			}
			if !seen[strings.ToLower(syn)] {
				add(syn)
				added++
			}
		}
	}
	if e.includeCasing {
		for _, term := range terms {
			for _, v := range casingVariants(term) {
				add(v)
			}
		}
	}

	return strings.Join(expanded, " ")
}

// splitQueryTerms tokenizes on non-identifier runes, then splits
// camelCase and snake_case tokens into their words.
func splitQueryTerms(query string) []string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var terms []string
	for _, token := range tokens {
		if strings.Contains(token, "_") {
			for _, p := range strings.Split(token, "_") {
				if p != "" {
					terms = append(terms, p)
				}
			}
			continue
		}
		var current strings.Builder
		for i, r := range token {
			if i > 0 && unicode.IsUpper(r) && current.Len() > 0 {
				terms = append(terms, current.String())
				current.Reset()
			}
			current.WriteRune(r)
		}
		if current.Len() > 0 {
			terms = append(terms, current.String())
		}
	}
	return terms
}

// casingVariants returns the identifier casings a term commonly appears
// under: lowercase, Title, and (for short terms) SCREAMING abbreviation.
func casingVariants(term string) []string {
	if term == "" {
		return nil
	}
	var variants []string
	lower := strings.ToLower(term)
	if term != lower {
		variants = append(variants, lower)
	}
	if upper := strings.ToUpper(term); term != upper && len(term) <= 4 {
		variants = append(variants, upper)
	}
	if title := strings.ToUpper(lower[:1]) + lower[1:]; term != title {
		variants = append(variants, title)
	}
	return variants
}
