package ringrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExecutorOptions_Defaults(t *testing.T) {
	cfg, err := resolveExecutorOptions(nil)
	require.NoError(t, err)
	assert.EqualValues(t, defaultSubmissionQueueDepth, cfg.submissionDepth)
	assert.Equal(t, Unbound(), cfg.placement)
	assert.NotNil(t, cfg.logger)
}

func TestResolveExecutorOptions_ZeroDepthFallsBackToDefault(t *testing.T) {
	cfg, err := resolveExecutorOptions([]ExecutorOption{WithSubmissionQueueDepth(0)})
	require.NoError(t, err)
	assert.EqualValues(t, defaultSubmissionQueueDepth, cfg.submissionDepth)
}

func TestResolveExecutorOptions_AppliesInOrder(t *testing.T) {
	cfg, err := resolveExecutorOptions([]ExecutorOption{
		WithSubmissionQueueDepth(32),
		WithSubmissionQueueDepth(64),
		WithPlacement(Fixed(2)),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 64, cfg.submissionDepth, "later options win")
	assert.Equal(t, Fixed(2), cfg.placement)
}

func TestResolveExecutorOptions_NilLoggerFallsBackToNoOp(t *testing.T) {
	cfg, err := resolveExecutorOptions([]ExecutorOption{WithLogger(nil)})
	require.NoError(t, err)
	assert.NotNil(t, cfg.logger)
}
