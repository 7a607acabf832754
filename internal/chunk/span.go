package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SpanKind is the semantic kind of a Span, per the data model's span taxonomy.
// It is a superset of SymbolType: it also covers module/import/export spans
// that Symbol extraction does not itself produce as symbols.
type SpanKind string

const (
	SpanKindFunction  SpanKind = "function"
	SpanKindMethod    SpanKind = "method"
	SpanKindClass     SpanKind = "class"
	SpanKindInterface SpanKind = "interface"
	SpanKindVariable  SpanKind = "variable"
	SpanKindConstant  SpanKind = "constant"
	SpanKindType      SpanKind = "type"
	SpanKindEnum      SpanKind = "enum"
	SpanKindModule    SpanKind = "module"
	SpanKindImport    SpanKind = "import"
	SpanKindExport    SpanKind = "export"
)

// symbolKindToSpanKind maps the narrower SymbolType taxonomy onto SpanKind.
func symbolKindToSpanKind(t SymbolType) SpanKind {
	switch t {
	case SymbolTypeFunction:
		return SpanKindFunction
	case SymbolTypeMethod:
		return SpanKindMethod
	case SymbolTypeClass:
		return SpanKindClass
	case SymbolTypeInterface:
		return SpanKindInterface
	case SymbolTypeType:
		return SpanKindType
	case SymbolTypeVariable:
		return SpanKindVariable
	case SymbolTypeConstant:
		return SpanKindConstant
	default:
		return SpanKindVariable
	}
}

// Span is a contiguous source region with semantic identity, the unit of
// code understanding that Chunks are rendered from. Span identity is
// deterministic: two runs over identical bytes in the same location produce
// byte-identical ids.
type Span struct {
	ID        string // sha256(repo|path|byte_start|byte_end|kind|name|signature|hash(doc)|hash(parents))
	Repo      string
	Path      string
	ByteStart uint32
	ByteEnd   uint32
	Kind      SpanKind
	Name      string
	Signature string
	Doc       string
	Parents   []string
	StartLine int
	EndLine   int
}

// NewSpanID computes the deterministic span_id for the given fields, per the
// data model invariant byte_start < byte_end and stable ids across re-runs.
func NewSpanID(repo, path string, byteStart, byteEnd uint32, kind SpanKind, name, signature, doc string, parents []string) string {
	docHash := sha256.Sum256([]byte(doc))
	parentsJoined := ""
	for i, p := range parents {
		if i > 0 {
			parentsJoined += "\x00"
		}
		parentsJoined += p
	}
	parentsHash := sha256.Sum256([]byte(parentsJoined))

	payload := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%x|%x",
		repo, path, byteStart, byteEnd, kind, name, signature, docHash, parentsHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// SpansFromSymbols converts extracted Symbols for one file into Spans,
// computing deterministic ids. Symbols with ByteEnd <= ByteStart are skipped
// as they violate the Span byte_start < byte_end invariant (this can happen
// for zero-width or malformed grammar nodes).
func SpansFromSymbols(repo, path string, symbols []*Symbol) []*Span {
	spans := make([]*Span, 0, len(symbols))
	for _, s := range symbols {
		if s == nil || s.EndByte <= s.StartByte {
			continue
		}
		kind := symbolKindToSpanKind(s.Type)
		spans = append(spans, &Span{
			ID:        NewSpanID(repo, path, s.StartByte, s.EndByte, kind, s.Name, s.Signature, s.DocComment, s.Parents),
			Repo:      repo,
			Path:      path,
			ByteStart: s.StartByte,
			ByteEnd:   s.EndByte,
			Kind:      kind,
			Name:      s.Name,
			Signature: s.Signature,
			Doc:       s.DocComment,
			Parents:   s.Parents,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
		})
	}
	return spans
}
