package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	uploads []string
}

func (f *fakeMirror) Upload(area string, jobID uint64, relPath string, data []byte) error {
	f.uploads = append(f.uploads, relPath)
	return nil
}

func TestStoreCreatesJobDirAndCurrentSymlink(t *testing.T) {
	area := t.TempDir()

	_, err := New(area, 7, RolloverDaily, ".csv", nil)
	require.NoError(t, err)

	require.DirExists(t, filepath.Join(area, "7"))

	link := filepath.Join(area, "current")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(area, "7"), target)
}

func TestStoreRolloverNamesFileByDay(t *testing.T) {
	area := t.TempDir()
	st, err := New(area, 1, RolloverDaily, ".csv", nil)
	require.NoError(t, err)

	fixed := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	require.NoError(t, st.Write([]byte("a,b,c\n")))
	require.NoError(t, st.Write([]byte("d,e,f\n")))
	require.NoError(t, st.Close())

	data, err := os.ReadFile(filepath.Join(area, "1", "20240102-000000.csv"))
	require.NoError(t, err)
	require.Equal(t, "a,b,c\nd,e,f\n", string(data))
}

func TestStoreRolloverNamesFileByHour(t *testing.T) {
	area := t.TempDir()
	st, err := New(area, 1, RolloverHourly, ".csv", nil)
	require.NoError(t, err)

	fixed := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	st.now = func() time.Time { return fixed }
	require.NoError(t, st.Write([]byte("row1\n")))
	require.NoError(t, st.Close())

	require.FileExists(t, filepath.Join(area, "1", "20240102-150000.csv"))
}

func TestStoreRolloverUploadsCompletedFileToMirror(t *testing.T) {
	area := t.TempDir()
	m := &fakeMirror{}
	st, err := New(area, 3, RolloverHourly, ".csv", m)
	require.NoError(t, err)

	t0 := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	t1 := t0.Add(2 * time.Hour)
	st.now = func() time.Time { return t0 }
	require.NoError(t, st.Write([]byte("first\n")))

	st.now = func() time.Time { return t1 }
	require.NoError(t, st.Write([]byte("second\n")))
	require.NoError(t, st.Close())

	require.Equal(t, []string{"20240102-150000.csv", "20240102-170000.csv"}, m.uploads)
}

func TestParseDatalakeURI(t *testing.T) {
	bucket, prefix, err := ParseDatalakeURI("s3://my-bucket/path/to/data")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/data", prefix)

	_, _, err = ParseDatalakeURI("not-s3")
	require.Error(t, err)
}
