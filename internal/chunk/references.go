package chunk

import (
	"strings"
)

// ReferenceKind is the kind of directed edge between two spans.
type ReferenceKind string

const (
	ReferenceKindCall      ReferenceKind = "call"
	ReferenceKindImport    ReferenceKind = "import"
	ReferenceKindTestOf    ReferenceKind = "test-of"
	ReferenceKindRoutes    ReferenceKind = "routes"
	ReferenceKindConfigKey ReferenceKind = "config-key"
)

// Reference is a directed relation from one span to another location.
// DstPath/ByteStart/ByteEnd address a destination location when it is known
// at extraction time (e.g. an import's literal path). For calls, the callee
// is usually only known by name until the Graph Expander resolves it against
// the Store's span index, so DstName carries the unresolved symbol name and
// DstPath is left empty.
type Reference struct {
	SrcSpanID string
	DstPath   string
	DstName   string
	ByteStart uint32
	ByteEnd   uint32
	Kind      ReferenceKind
}

// ReferenceExtractor walks a parsed tree and a file's Spans to produce edges.
type ReferenceExtractor struct {
	registry *LanguageRegistry
}

// NewReferenceExtractor creates a reference extractor using the default
// language registry (the same registry SymbolExtractor uses).
func NewReferenceExtractor() *ReferenceExtractor {
	return &ReferenceExtractor{registry: DefaultRegistry()}
}

// callNodeTypes lists tree-sitter node types that represent a function/method
// invocation, per language family.
var callNodeTypes = map[string][]string{
	"go":         {"call_expression"},
	"typescript": {"call_expression"},
	"tsx":        {"call_expression"},
	"javascript": {"call_expression"},
	"jsx":        {"call_expression"},
	"python":     {"call"},
}

// importNodeTypes lists tree-sitter node types for import statements.
var importNodeTypes = map[string][]string{
	"go":         {"import_spec"},
	"typescript": {"import_statement"},
	"tsx":        {"import_statement"},
	"javascript": {"import_statement"},
	"jsx":        {"import_statement"},
	"python":     {"import_statement", "import_from_statement"},
}

// Extract produces call and import edges for every Span in spans whose byte
// range is covered by a node in tree. Calls whose enclosing span cannot be
// determined are dropped: a Reference always needs a concrete SrcSpanID.
func (e *ReferenceExtractor) Extract(tree *Tree, source []byte, spans []*Span) []*Reference {
	if tree == nil || tree.Root == nil || len(spans) == 0 {
		return nil
	}

	refs := make([]*Reference, 0)
	callTypes := callNodeTypes[tree.Language]
	importTypes := importNodeTypes[tree.Language]

	tree.Root.Walk(func(n *Node) bool {
		if isNodeType(n.Type, callTypes) {
			if name := e.extractCalleeName(n, source, tree.Language); name != "" {
				if span := enclosingSpan(spans, n.StartByte, n.EndByte); span != nil {
					refs = append(refs, &Reference{
						SrcSpanID: span.ID,
						DstName:   name,
						ByteStart: n.StartByte,
						ByteEnd:   n.EndByte,
						Kind:      ReferenceKindCall,
					})
				}
			}
		}
		if isNodeType(n.Type, importTypes) {
			if path := e.extractImportPath(n, source, tree.Language); path != "" {
				// Imports are file-scoped; attribute them to the enclosing
				// span if one exists (e.g. inside a Python function), else
				// to an implicit module span covering the whole file.
				src := enclosingSpan(spans, n.StartByte, n.EndByte)
				srcID := ""
				if src != nil {
					srcID = src.ID
				} else if len(spans) > 0 {
					srcID = spans[0].ID
				}
				refs = append(refs, &Reference{
					SrcSpanID: srcID,
					DstPath:   path,
					Kind:      ReferenceKindImport,
				})
			}
		}
		return true
	})

	return refs
}

// TestOfEdges heuristically links test spans to the implementation span they
// most plausibly exercise, by stripping common test-name prefixes/suffixes
// and matching against candidateNames. Callers resolve the match to a
// concrete span id (e.g. via the Store's symbol search) since the
// implementation may live in a different file.
func TestOfEdges(testSpans []*Span, candidateNames map[string]string) []*Reference {
	refs := make([]*Reference, 0)
	for _, s := range testSpans {
		impl := implementationNameFromTestName(s.Name)
		if impl == "" {
			continue
		}
		if dstID, ok := candidateNames[impl]; ok {
			refs = append(refs, &Reference{
				SrcSpanID: s.ID,
				DstName:   impl,
				DstPath:   dstID,
				Kind:      ReferenceKindTestOf,
			})
		}
	}
	return refs
}

func implementationNameFromTestName(name string) string {
	switch {
	case strings.HasPrefix(name, "Test"):
		return strings.TrimPrefix(name, "Test")
	case strings.HasPrefix(name, "test_"):
		return strings.TrimPrefix(name, "test_")
	case strings.HasSuffix(name, "_test"):
		return strings.TrimSuffix(name, "_test")
	default:
		return ""
	}
}

func isNodeType(t string, candidates []string) bool {
	for _, c := range candidates {
		if t == c {
			return true
		}
	}
	return false
}

// enclosingSpan returns the narrowest Span fully containing [start, end), or
// nil if no span covers the range (e.g. top-level file-scope code).
func enclosingSpan(spans []*Span, start, end uint32) *Span {
	var best *Span
	for _, s := range spans {
		if s.ByteStart <= start && end <= s.ByteEnd {
			if best == nil || (s.ByteEnd-s.ByteStart) < (best.ByteEnd-best.ByteStart) {
				best = s
			}
		}
	}
	return best
}

func (e *ReferenceExtractor) extractCalleeName(n *Node, source []byte, language string) string {
	if len(n.Children) == 0 {
		return ""
	}
	callee := n.Children[0]
	switch callee.Type {
	case "identifier":
		return callee.GetContent(source)
	case "selector_expression", "member_expression", "attribute":
		// Use the rightmost identifier child as the method/function name,
		// e.g. "UserService.create" -> "create".
		name := ""
		for _, c := range callee.Children {
			if c.Type == "identifier" || c.Type == "field_identifier" || c.Type == "property_identifier" {
				name = c.GetContent(source)
			}
		}
		return name
	default:
		return strings.TrimSpace(callee.GetContent(source))
	}
}

func (e *ReferenceExtractor) extractImportPath(n *Node, source []byte, language string) string {
	var path string
	n.Walk(func(c *Node) bool {
		if c.Type == "interpreted_string_literal" || c.Type == "string" || c.Type == "string_literal" {
			path = strings.Trim(c.GetContent(source), "\"'")
			return false
		}
		return true
	})
	return path
}
