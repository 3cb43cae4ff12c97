package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrackerHappyPath(t *testing.T) {
	tr := newRunTracker()
	for _, s := range happyPath[1:] {
		require.NoError(t, tr.Advance(s))
	}
	assert.Equal(t, StateNormalized, tr.Current())
	assert.True(t, tr.Current().Terminal())
	assert.Error(t, tr.Advance(StateNormalized), "终止后不能再前进")
}

func TestRunTrackerRejectsSkipsAndReentry(t *testing.T) {
	tr := newRunTracker()
	assert.Error(t, tr.Advance(StateTextExtracted), "不能跳过 Classified")
	require.NoError(t, tr.Advance(StateClassified))
	assert.Error(t, tr.Advance(StateClassified), "不能重入")
	assert.Error(t, tr.Advance(StateSubmitted), "不能后退")
	assert.Equal(t, []RunState{StateSubmitted, StateClassified}, tr.History())
}

func TestRunTrackerFailureStates(t *testing.T) {
	tr := newRunTracker()
	assert.Equal(t, StateUnsupportedFormat, tr.Fail(KindUnsupportedFormat))
	assert.Equal(t, StateUnsupportedFormat, tr.Fail(KindInternal), "终止状态不会被覆盖")

	tr = newRunTracker()
	require.NoError(t, tr.Advance(StateClassified))
	assert.Equal(t, StateInsufficientText, tr.Fail(KindInsufficientText))

	// 错误状态只能从对应阶段进入
	tr = newRunTracker()
	require.NoError(t, tr.Advance(StateClassified))
	assert.Equal(t, StateFailed, tr.Fail(KindMalformedCompletion))

	tr = newRunTracker()
	assert.Equal(t, StateCancelled, tr.Fail(KindCancelled))
	assert.True(t, tr.Current().Failed())
}
