package ranking

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/course"
)

func newRanker(t *testing.T) course.Ranker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRanker(client)
}

func TestRedisRanker(t *testing.T) {
	ctx := context.Background()
	r := newRanker(t)

	ranks, err := r.Top(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, ranks)

	for _, id := range []int{1, 2, 2, 3, 3, 3, 4} {
		require.NoError(t, r.Incr(ctx, id))
	}

	ranks, err = r.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []course.Rank{{CourseID: 3, Enrollments: 3}, {CourseID: 2, Enrollments: 2}}, ranks)

	require.NoError(t, r.Remove(ctx, 3))
	ranks, err = r.Top(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []course.Rank{{CourseID: 2, Enrollments: 2}}, ranks)

	ranks, err = r.Top(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ranks)
}

func TestRedisRanker_Reset(t *testing.T) {
	ctx := context.Background()
	r := newRanker(t)

	require.NoError(t, r.Incr(ctx, 9))
	require.NoError(t, r.Reset(ctx, map[int]int{1: 5, 2: 7}))

	ranks, err := r.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []course.Rank{{CourseID: 2, Enrollments: 7}, {CourseID: 1, Enrollments: 5}}, ranks)

	require.NoError(t, r.Reset(ctx, nil))
	ranks, err = r.Top(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ranks)
}
