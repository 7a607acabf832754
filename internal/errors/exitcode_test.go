package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode_NilIsSuccess(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
}

func TestExitCode_ByKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, ExitConfig},
		{KindTimeout, ExitTimeout},
		{KindCancelled, ExitTimeout},
		{KindRateLimited, ExitNetwork},
		{KindUnavailable, ExitNetwork},
		{KindNotFound, ExitIO},
		{KindInternal, ExitInternal},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := NewKind(tc.kind, "boom", nil)
			assert.Equal(t, tc.want, ExitCode(err))
		})
	}
}

func TestExitCode_ByCategory(t *testing.T) {
	cfgErr := New(ErrCodeConfigInvalid, "bad config", nil)
	assert.Equal(t, ExitConfig, ExitCode(cfgErr))

	plain := errors.New("anything else")
	assert.Equal(t, ExitInternal, ExitCode(plain))
}
