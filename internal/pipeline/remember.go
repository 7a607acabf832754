package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pampax-dev/pampax/internal/store"
)

// RememberCreate persists a durable note (decision, gotcha, preference,
// fact) a caller wants resurfaced by future queries' Memory generator.
func (p *Pipeline) RememberCreate(ctx context.Context, projectID, kind, content string, tags []string) (*store.MemoryItem, error) {
	item := &store.MemoryItem{
		ID:        memoryItemID(projectID, kind, content),
		ProjectID: projectID,
		Kind:      kind,
		Content:   content,
		Tags:      strings.Join(tags, ","),
		CreatedAt: time.Now(),
	}
	if err := p.deps.Store.SaveMemoryItem(ctx, item); err != nil {
		return nil, fmt.Errorf("remember create: %w", err)
	}
	return item, nil
}

// RememberQuery full-text searches a project's memory items.
func (p *Pipeline) RememberQuery(ctx context.Context, projectID, query string, limit int) ([]*store.MemoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := p.deps.Store.SearchMemory(ctx, projectID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("remember query: %w", err)
	}
	return items, nil
}

// Forget deletes a memory item by id.
func (p *Pipeline) Forget(ctx context.Context, id string) error {
	if err := p.deps.Store.DeleteMemoryItem(ctx, id); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	return nil
}

// PinSpan records a span as always-relevant context for a project. There
// is no dedicated pin table; a pin is modeled as a memory item of kind
// "pin" whose content is the span id, so the Memory candidate generator
// and RememberQuery/Forget already know how to surface and remove it.
func (p *Pipeline) PinSpan(ctx context.Context, projectID, spanID, note string) (*store.MemoryItem, error) {
	content := spanID
	if note != "" {
		content = spanID + ": " + note
	}
	item := &store.MemoryItem{
		ID:        memoryItemID(projectID, "pin", spanID),
		ProjectID: projectID,
		Kind:      "pin",
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := p.deps.Store.SaveMemoryItem(ctx, item); err != nil {
		return nil, fmt.Errorf("pin span: %w", err)
	}
	return item, nil
}

func memoryItemID(projectID, kind, content string) string {
	h := sha256.New()
	h.Write([]byte(projectID))
	h.Write([]byte{'|'})
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(content))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
