package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactory_Count_Deterministic(t *testing.T) {
	f := NewFactory()
	text := "func main() { fmt.Println(\"hello\") }"

	first := f.Count("gpt-4o", text)
	second := f.Count("gpt-4o", text)
	assert.Equal(t, first, second)
	assert.Greater(t, first, 0)
}

func TestFactory_Count_UnknownModelUsesDefault(t *testing.T) {
	f := NewFactory()
	text := strings.Repeat("a", 380)

	got := f.Count("some-future-model", text)
	assert.Equal(t, int(380/DefaultCharsPerToken), got)
}

func TestFactory_Count_EmptyText(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, 0, f.Count("gpt-4o", ""))
}

func TestFactory_Count_DifferentModelsDifferentCacheEntries(t *testing.T) {
	f := NewFactory()
	text := strings.Repeat("x", 100)

	gpt := f.Count("gpt-4o", text)
	claude := f.Count("claude-3.5", text)
	assert.NotEqual(t, gpt, claude, "different char-per-token ratios should yield different counts")
}

func TestFactory_Measure(t *testing.T) {
	f := NewFactory()

	r := f.Measure("claude-3.5", "some chunk content")
	assert.Equal(t, "claude-3.5", r.ModelID)
	assert.Equal(t, 200000, r.ContextWindow)
	assert.False(t, r.Estimated)
	assert.Greater(t, r.Count, 0)

	u := f.Measure("some-future-model", "some chunk content")
	assert.True(t, u.Estimated)
	assert.Equal(t, DefaultContextWindow, u.ContextWindow)
}

func TestLookup_LongestPrefixWins(t *testing.T) {
	f := NewFactory()
	text := strings.Repeat("y", 400)

	// gpt-4o-mini resolves through gpt-4o (128k window), not gpt-4 (8k).
	assert.Equal(t, 128000, ContextWindow("gpt-4o-mini"))
	assert.Equal(t, 8192, ContextWindow("gpt-4-0613"))
	assert.Equal(t, f.Count("gpt-4o", text), f.Count("gpt-4o-mini", text))
}

func TestFactory_Fits(t *testing.T) {
	f := NewFactory()
	short := "hello"
	assert.True(t, f.Fits("gpt-4o", short, 100))
	assert.False(t, f.Fits("gpt-4o", strings.Repeat("word ", 1000), 10))
}
