package mcp

import (
	"fmt"
	"strings"

	"github.com/pampax-dev/pampax/internal/packing"
)

// FormatBundle renders a packed Bundle as markdown, used by the search
// tool's generic and language-filtered variants alike.
func FormatBundle(query string, bundle packing.Bundle, heading string) string {
	items := packedItems(bundle)
	if len(items) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s for \"%s\"\n\n", heading, query)
	fmt.Fprintf(&sb, "Found %d result", len(items))
	if len(items) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, item := range items {
		formatItem(&sb, i+1, item)
	}

	return sb.String()
}

// FormatDocsBundle renders a packed Bundle preserving markdown content
// as-is instead of wrapping it in a code block, for the search_docs tool.
func FormatDocsBundle(query string, bundle packing.Bundle) string {
	items := packedItems(bundle)
	if len(items) == 0 {
		return fmt.Sprintf("No documentation found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Documentation Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(items))
	if len(items) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, item := range items {
		formatDocsItem(&sb, i+1, item)
	}

	return sb.String()
}

// packedItems drops items the Packing Engine decided to skip (over
// budget, or otherwise not placed in the Bundle).
func packedItems(bundle packing.Bundle) []packing.PackedItem {
	items := make([]packing.PackedItem, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		if item.Strategy == packing.StrategySkipped {
			continue
		}
		items = append(items, item)
	}
	return items
}

// formatItem formats a single packed item as a generic/code result.
func formatItem(sb *strings.Builder, num int, item packing.PackedItem) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f, tier: %s)\n",
		num, item.Candidate.FilePath, item.Candidate.Score, item.Tier)

	if item.Candidate.Signature != "" {
		fmt.Fprintf(sb, "**Signature:** `%s`\n\n", item.Candidate.Signature)
	}

	lang := languageFromPath(item.Candidate.FilePath)
	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, item.Content)
}

// formatDocsItem formats a single packed item as a documentation result,
// rendering markdown content directly instead of in a code fence.
func formatDocsItem(sb *strings.Builder, num int, item packing.PackedItem) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n\n", num, item.Candidate.FilePath, item.Candidate.Score)

	if strings.HasSuffix(item.Candidate.FilePath, ".md") || strings.HasSuffix(item.Candidate.FilePath, ".mdx") {
		sb.WriteString(item.Content)
		sb.WriteString("\n\n---\n\n")
	} else {
		fmt.Fprintf(sb, "```\n%s\n```\n\n", item.Content)
	}
}

// languageFromPath infers a markdown code-fence language hint from a
// file's extension, matching chunk.Language detection at a coarser
// granularity (this package only needs it for display).
func languageFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".rs"):
		return "rust"
	case strings.HasSuffix(path, ".java"):
		return "java"
	case strings.HasSuffix(path, ".md"), strings.HasSuffix(path, ".mdx"):
		return "markdown"
	default:
		return "text"
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts one packed item to the MCP SDK's
// enhanced output format, explaining why it matched the way the
// original flat SearchResult rendering did.
func ToSearchResultOutput(item packing.PackedItem) SearchResultOutput {
	return SearchResultOutput{
		FilePath:    item.Candidate.FilePath,
		Content:     item.Content,
		Score:       item.Candidate.Score,
		Language:    languageFromPath(item.Candidate.FilePath),
		Signature:   item.Candidate.Signature,
		MatchReason: generateMatchReason(item),
	}
}

// generateMatchReason creates a human-readable explanation of why a
// packed item matched, from the capsule's signature/doc and the tier the
// Packing Engine placed it in.
func generateMatchReason(item packing.PackedItem) string {
	var parts []string

	if item.Candidate.Signature != "" {
		parts = append(parts, fmt.Sprintf("signature: %s", item.Candidate.Signature))
	}
	if item.Candidate.DocComment != "" {
		docLine := item.Candidate.DocComment
		if idx := strings.Index(docLine, "\n"); idx > 0 {
			docLine = docLine[:idx]
		}
		if len(docLine) > 50 {
			docLine = docLine[:47] + "..."
		}
		parts = append(parts, fmt.Sprintf("documented as: %s", docLine))
	}
	parts = append(parts, fmt.Sprintf("packed as %s in the %s tier", item.Strategy, item.Tier))

	return strings.Join(parts, "; ")
}
