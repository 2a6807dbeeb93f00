package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobProgressDerivesPercentages(t *testing.T) {
	p := NewJobProgress(JobStatusProcessing, 10, 5, []string{"a", "b", "c", "d"})

	assert.Equal(t, JobStatusProcessing, p.Status)
	assert.InDelta(t, 50.0, p.PctCompletion, 0.001)
	assert.InDelta(t, 40.0, p.PctIndexing, 0.001)
}

func TestNewJobProgressZeroTotal(t *testing.T) {
	p := NewJobProgress(JobStatusQueued, 0, 0, nil)

	assert.Equal(t, JobStatusQueued, p.Status)
	assert.Zero(t, p.PctCompletion)
	assert.Zero(t, p.PctIndexing)
}
