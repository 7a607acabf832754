package seedmix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampax-dev/pampax/internal/candidates"
)

func TestFuse_CombinesAndDedupes(t *testing.T) {
	m := NewMixer()
	sources := []candidates.Result{
		{Source: candidates.SourceFTS, Refs: []candidates.Ref{
			{ChunkID: "a", RawScore: 5.0, RankInSource: 1},
			{ChunkID: "b", RawScore: 3.0, RankInSource: 2},
		}},
		{Source: candidates.SourceVector, Refs: []candidates.Ref{
			{ChunkID: "a", RawScore: 0.9, RankInSource: 1},
			{ChunkID: "c", RawScore: 0.8, RankInSource: 2},
		}},
	}
	weights := map[candidates.Source]float64{candidates.SourceFTS: 1.0, candidates.SourceVector: 1.0}

	results := m.Fuse(sources, weights)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ChunkID, "chunk in both lists at rank 1 should win")
	assert.Equal(t, 2, results[0].SourceCount)
	assert.InDelta(t, 1.0, results[0].RRFScore, 0.0001, "top result normalizes to 1.0")
}

func TestFuse_EmptySources(t *testing.T) {
	m := NewMixer()
	results := m.Fuse(nil, nil)
	assert.Empty(t, results)
}

func TestFuse_Deterministic(t *testing.T) {
	m := NewMixer()
	sources := []candidates.Result{
		{Source: candidates.SourceFTS, Refs: []candidates.Ref{
			{ChunkID: "z", RawScore: 1.0, RankInSource: 1},
			{ChunkID: "y", RawScore: 1.0, RankInSource: 1},
		}},
	}
	r1 := m.Fuse(sources, nil)
	r2 := m.Fuse(sources, nil)
	require.Len(t, r1, 2)
	require.Equal(t, r1[0].ChunkID, r2[0].ChunkID)
	assert.Equal(t, "y", r1[0].ChunkID, "equal scores tie-break lexicographically")
}

func TestApplyEarlyStop_TruncatesOnSteepDecay(t *testing.T) {
	results := []*Fused{
		{ChunkID: "a", RRFScore: 1.0},
		{ChunkID: "b", RRFScore: 0.5},
		{ChunkID: "c", RRFScore: 0.1},
		{ChunkID: "d", RRFScore: 0.05},
	}
	out := ApplyEarlyStop(results, 3)
	assert.Len(t, out, 3)
}

func TestApplyEarlyStop_KeepsAllWhenDecayIsGradual(t *testing.T) {
	results := []*Fused{
		{ChunkID: "a", RRFScore: 1.0},
		{ChunkID: "b", RRFScore: 0.9},
		{ChunkID: "c", RRFScore: 0.8},
		{ChunkID: "d", RRFScore: 0.7},
	}
	out := ApplyEarlyStop(results, 3)
	assert.Len(t, out, 4)
}

func TestCache_SetGetExpiry(t *testing.T) {
	c := NewCache()
	now := time.Now()
	key := Key("symbol", "8/10", "hash123")

	_, ok := c.Get(key, now)
	assert.False(t, ok)

	fused := []*Fused{{ChunkID: "a", RRFScore: 1.0}}
	c.Set(key, fused, now)

	got, ok := c.Get(key, now.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, fused, got)

	_, ok = c.Get(key, now.Add(DefaultCacheTTL+time.Second))
	assert.False(t, ok, "entry should expire after TTL")
}

func TestPolicyHash_StableAcrossMapOrdering(t *testing.T) {
	h1 := PolicyHash(2, 3, map[string]float64{"definition": 2.0, "usage": 1.0})
	h2 := PolicyHash(2, 3, map[string]float64{"usage": 1.0, "definition": 2.0})
	assert.Equal(t, h1, h2)
}
