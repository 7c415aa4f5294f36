package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountsAsWin(t *testing.T) {
	assert.True(t, ResultWin.CountsAsWin(false))
	assert.False(t, ResultPush.CountsAsWin(false))
	assert.True(t, ResultPush.CountsAsWin(true))
	for _, st := range []ResultStatus{ResultLose, ResultAbort, ResultCanceled} {
		assert.False(t, st.CountsAsWin(true), st)
	}
}

func TestLossStreak(t *testing.T) {
	newestFirst := []ResultStatus{ResultAbort, ResultPush, ResultLose, ResultWin, ResultLose}

	assert.Equal(t, 3, LossStreak(newestFirst, false))
	assert.Equal(t, 1, LossStreak(newestFirst, true))
	assert.Zero(t, LossStreak(nil, false))
	assert.Equal(t, 2, LossStreak([]ResultStatus{ResultCanceled, ResultLose}, true))
}
