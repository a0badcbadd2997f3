package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/oriys/skysweep/internal/cache"
	"github.com/stretchr/testify/require"
)

func TestPipelineRunFoldsProducerFilter(t *testing.T) {
	ctx := context.Background()

	producer := NewProducerTask(ctx, func(ctx context.Context, out chan<- Record) error {
		for _, s := range []string{"a", "bb", "ccc"} {
			select {
			case out <- Record(s):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}, 0)

	filter := NewFilterTask(ctx, func(r Record) (Record, bool, error) {
		if len(r) < 2 {
			return nil, false, nil
		}
		return Record(strings.ToUpper(string(r))), true, nil
	}, 0)

	p := New("test-pipeline", 1)
	out, err := p.Run(ctx, []Task{producer, filter})
	require.NoError(t, err)

	got := make([]string, len(out))
	for i, r := range out {
		got[i] = string(r)
	}
	require.Equal(t, []string{"BB", "CCC"}, got)
}

func TestPipelineRunPropagatesTaskError(t *testing.T) {
	ctx := context.Background()
	boom := NewFilterTask(ctx, func(r Record) (Record, bool, error) {
		return nil, false, assertErr
	}, 0)

	producer := NewProducerTask(ctx, func(ctx context.Context, out chan<- Record) error {
		out <- Record("x")
		return nil
	}, 0)

	p := New("err-pipeline", 1)
	_, err := p.Run(ctx, []Task{producer, boom})
	require.ErrorIs(t, err, assertErr)
}

func TestPipelineRunRejectsEmptyTaskList(t *testing.T) {
	p := New("empty", 0)
	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoTasks)
}

func TestCacheTaskDedupsByKey(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache()
	defer c.Close()

	seen := NewCacheTask(ctx, c, func(r Record) string { return string(r) }, nil, 0)
	producer := NewProducerTask(ctx, func(ctx context.Context, out chan<- Record) error {
		out <- Record("dup")
		out <- Record("dup")
		out <- Record("fresh")
		return nil
	}, 0)

	p := New("cache-pipeline", 1)
	out, err := p.Run(ctx, []Task{producer, seen})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
