package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = b.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := b.Try(func() error { return nil })
	assert.ErrorIs(t, err, ErrBulkheadFull)

	close(release)
}

func TestDependency_OpensAfterFailures(t *testing.T) {
	cfg := DefaultDependencyConfig()
	cfg.MaxFailures = 2
	cfg.MaxRetries = 0
	dep := NewDependency("vector", cfg)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := dep.Call(context.Background(), func(ctx context.Context) error { return boom })
		require.Error(t, err)
	}

	assert.False(t, dep.Healthy())

	err := dep.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.Error(t, err, "circuit should be open and reject the call")
}

func TestRegistry_CurrentLevel(t *testing.T) {
	reg := NewRegistry()

	cfg := DefaultDependencyConfig()
	cfg.MaxFailures = 1
	cfg.MaxRetries = 0
	cfg.FallbackLevel = LevelNoRerank
	reranker := NewDependency("reranker", cfg)
	reg.Register(reranker)

	assert.Equal(t, LevelFull, reg.CurrentLevel())

	_ = reranker.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("provider down")
	})

	assert.Equal(t, LevelNoRerank, reg.CurrentLevel())
}
