package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineStatus_Terminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusValidating.Terminal())
	assert.False(t, StatusDeploying.Terminal())
}

func TestPipelineStatus_Valid(t *testing.T) {
	for _, s := range []PipelineStatus{
		StatusValidating, StatusBranching, StatusCoding, StatusCommitting,
		StatusCreatingPR, StatusDeploying, StatusComplete, StatusFailed,
	} {
		assert.True(t, s.Valid(), "%s", s)
	}
	assert.False(t, PipelineStatus("exploded").Valid())
	assert.False(t, PipelineStatus("").Valid())
}

func TestPipelineStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to PipelineStatus
		want     bool
	}{
		{StatusValidating, StatusBranching, true},
		{StatusValidating, StatusDeploying, true}, // skipping ahead is allowed
		{StatusCoding, StatusCommitting, true},
		{StatusDeploying, StatusComplete, true},

		{StatusCoding, StatusValidating, false}, // never backwards
		{StatusCoding, StatusCoding, false},     // never sideways

		{StatusValidating, StatusFailed, true}, // failed from any non-terminal
		{StatusDeploying, StatusFailed, true},

		{StatusComplete, StatusFailed, false}, // nothing leaves a terminal state
		{StatusFailed, StatusValidating, false},
		{StatusFailed, StatusFailed, false},

		{StatusValidating, PipelineStatus("exploded"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
