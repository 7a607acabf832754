package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_EmptyQuery_IsInvalidInput(t *testing.T) {
	c := NewClassifier()
	_, err := c.Classify("   ")
	require.Error(t, err)
}

func TestClassify_Symbol(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("where is handleAuthRequest defined")
	require.NoError(t, err)
	assert.Equal(t, IntentSymbol, res.Intent)
	assert.Greater(t, res.Confidence, DefaultThreshold)
}

func TestClassify_Config(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("what does config.yaml set for DATABASE_URL")
	require.NoError(t, err)
	assert.Equal(t, IntentConfig, res.Intent)
}

func TestClassify_API(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("GET /api/v1/users/:id handler")
	require.NoError(t, err)
	assert.Equal(t, IntentAPI, res.Intent)
}

func TestClassify_Incident(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("panic: nil pointer dereference in ERR_CONNECTION_REFUSED handler")
	require.NoError(t, err)
	assert.Equal(t, IntentIncident, res.Intent)
}

func TestClassify_FallsBackToSearch(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("how do these pieces fit together")
	require.NoError(t, err)
	assert.Equal(t, IntentSearch, res.Intent)
}

func TestClassify_FallbackInvariant(t *testing.T) {
	c := NewClassifier()
	queries := []string{
		"hello there friend",
		"getUserById",
		"config.yaml",
		"POST /api/login",
		"panic in main.go",
	}
	for _, q := range queries {
		res, err := c.Classify(q)
		require.NoError(t, err)
		if res.Intent == IntentSearch {
			for in, score := range res.Scores {
				assert.LessOrEqualf(t, score, DefaultThreshold, "intent %s scored above threshold but search was chosen for %q", in, q)
			}
		} else {
			assert.Greater(t, res.Scores[res.Intent], DefaultThreshold)
		}
	}
}

func TestClassify_ExtractsEntities(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("handleAuthRequest fails with ERR_TIMEOUT in handler.go")
	require.NoError(t, err)
	var sawIdentifier, sawErrorCode bool
	for _, e := range res.Entities {
		if e.Kind == "identifier" && e.Value == "handleAuthRequest" {
			sawIdentifier = true
		}
		if e.Kind == "error_code" {
			sawErrorCode = true
		}
	}
	assert.True(t, sawIdentifier)
	assert.True(t, sawErrorCode)
}

func TestClassify_ConfidenceBounded(t *testing.T) {
	c := NewClassifier()
	res, err := c.Classify("ERR_TIMEOUT exception panic crash failed bug incident outage")
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}
