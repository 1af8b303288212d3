package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobType(t *testing.T) {
	for _, jt := range AllJobTypes {
		got, err := ParseJobType(string(jt))
		require.NoError(t, err)
		assert.Equal(t, jt, got)
		assert.True(t, jt.Valid())
	}

	_, err := ParseJobType("thumbnail")
	assert.Error(t, err)
	assert.False(t, JobType("").Valid())
}

func TestIsTerminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusRetrying:  false,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), "status %s", status)
	}
}

func TestCloneDetachesTimestamps(t *testing.T) {
	started := time.Now()
	job := Job{ID: "job-1", StartedAt: &started}

	clone := job.Clone()
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, started, *job.StartedAt, "mutating the clone must not touch the original")
}

func TestDuration(t *testing.T) {
	now := time.Now()
	started := now.Add(-3 * time.Second)
	completed := now.Add(-1 * time.Second)

	assert.Zero(t, Job{}.Duration(now))
	assert.Equal(t, 3*time.Second, Job{StartedAt: &started}.Duration(now))
	assert.Equal(t, 2*time.Second, Job{StartedAt: &started, CompletedAt: &completed}.Duration(now))
}
