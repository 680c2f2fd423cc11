// Package ranking keeps the course popularity leaderboard in a Redis sorted set.
package ranking

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/darasa/core/course"
)

const CoursesKey = "leaderboard:courses"

type redisRanker struct {
	client *redis.Client
	key    string
}

var _ course.Ranker = (*redisRanker)(nil)

func NewRedisRanker(client *redis.Client) course.Ranker {
	return &redisRanker{client: client, key: CoursesKey}
}

func member(courseID int) string { return strconv.Itoa(courseID) }

func (r *redisRanker) Incr(ctx context.Context, courseID int) error {
	return errors.Wrap(r.client.ZIncrBy(ctx, r.key, 1, member(courseID)).Err(), "ranking course")
}

// Top returns the n courses with the most enrollments, highest first.
func (r *redisRanker) Top(ctx context.Context, n int) ([]course.Rank, error) {
	if n <= 0 {
		return []course.Rank{}, nil
	}
	// ZREVRANGE returns highest to lowest
	results, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reading course ranking")
	}

	ranks := make([]course.Rank, 0, len(results))
	for _, res := range results {
		m, _ := res.Member.(string)
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ranks = append(ranks, course.Rank{CourseID: id, Enrollments: int(res.Score)})
	}
	return ranks, nil
}

func (r *redisRanker) Remove(ctx context.Context, courseID int) error {
	return errors.Wrap(r.client.ZRem(ctx, r.key, member(courseID)).Err(), "unranking course")
}

func (r *redisRanker) Reset(ctx context.Context, counts map[int]int) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(counts) == 0 {
			return nil
		}
		zs := make([]redis.Z, 0, len(counts))
		for id, n := range counts {
			zs = append(zs, redis.Z{Score: float64(n), Member: member(id)})
		}
		pipe.ZAdd(ctx, r.key, zs...)
		return nil
	})
	return errors.Wrap(err, "resetting course ranking")
}
