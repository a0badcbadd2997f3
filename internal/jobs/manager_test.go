package jobs

import (
	"testing"

	"github.com/oriys/skysweep/internal/enginestate"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	st, err := enginestate.Open(t.TempDir(), "testengine")
	require.NoError(t, err)
	t.Cleanup(st.Stop)
	return New(st)
}

func TestSubmitJobParsesYAMLAndQueues(t *testing.T) {
	m := newManager(t)

	text := []byte(`
name: daily-pull
producer:
  site: site1
  filter:
    variant: duration
    duration_s: 60
consumer:
  site: archive
`)

	id, err := m.SubmitJob(text)
	require.NoError(t, err)

	j, err := m.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, StateQueued, j.State)
	require.Equal(t, "site1", j.Producer.Site)
	require.Equal(t, int64(60), j.Producer.Filter.DurationS)
}

func TestQueueJobRejectsNonReadyJob(t *testing.T) {
	m := newManager(t)
	j, err := m.CreateJob("fresh")
	require.NoError(t, err)

	err = m.QueueJob(j.ID)
	require.ErrorAs(t, err, &ErrJobNotReady{})
}

func TestRemoveJobRejectsRunningJob(t *testing.T) {
	m := newManager(t)
	id, err := m.SubmitJob([]byte("name: run-me\n"))
	require.NoError(t, err)
	require.NoError(t, m.MarkRunning(id))

	err = m.RemoveJob(id)
	require.ErrorAs(t, err, &ErrJobIsRunning{})
}

func TestRemoveJobThenGetJobReturnsNotFound(t *testing.T) {
	m := newManager(t)
	id, err := m.SubmitJob([]byte("name: throwaway\n"))
	require.NoError(t, err)

	require.NoError(t, m.RemoveJob(id))

	_, err = m.GetJob(id)
	require.ErrorAs(t, err, &ErrJobNotFound{})
}

func TestMarkFailedTransitionsFromRunning(t *testing.T) {
	m := newManager(t)
	id, err := m.SubmitJob([]byte("name: flaky\n"))
	require.NoError(t, err)
	require.NoError(t, m.MarkRunning(id))
	require.NoError(t, m.MarkFailed(id))

	j, err := m.GetJob(id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, j.State)
}
