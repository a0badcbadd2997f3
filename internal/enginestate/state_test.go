package enginestate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFreshStateWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "testengine")
	require.NoError(t, err)
	defer s.Stop()

	snap := s.Snapshot()
	require.Equal(t, uint64(0), snap.Last)
	require.Empty(t, snap.Queue)
	require.Equal(t, os.Getpid(), snap.PID)

	_, err = os.Stat(filepath.Join(dir, "testengine.pid"))
	require.NoError(t, err)
}

func TestNextIDIncrementsAndPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "testengine")
	require.NoError(t, err)
	defer s.Stop()

	id1, err := s.NextID()
	require.NoError(t, err)
	id2, err := s.NextID()
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	data, err := os.ReadFile(filepath.Join(dir, "state"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"last":2`)

	reopened, err := Open(dir, "testengine")
	require.Error(t, err) // pid file still claimed by this live process
	require.Nil(t, reopened)
}

func TestEnqueueDequeue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "testengine")
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Enqueue(7))
	require.NoError(t, s.Enqueue(8))
	require.Equal(t, []uint64{7, 8}, s.Snapshot().Queue)

	require.NoError(t, s.Dequeue(7))
	require.Equal(t, []uint64{8}, s.Snapshot().Queue)
}

func TestOpenRecoversFromCorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state"), []byte("{not json"), 0o644))

	s, err := Open(dir, "testengine")
	require.NoError(t, err)
	defer s.Stop()
	require.Equal(t, uint64(0), s.Snapshot().Last)
}
