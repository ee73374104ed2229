package pv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"pv-go/internal/model"
)

// shardFreeSpace is one shard's answer to a free-space query.
type shardFreeSpace struct {
	shard Shard
	free  int64
}

// selectShard queries every shard's free space and returns the shard with the
// largest value. The decision is point-in-time and unlocked: concurrent
// callers may pick the same shard.
func selectShard(ctx context.Context, fed *Federation) (Shard, error) {
	spaces, err := fanOutEach(ctx, fed.Shards(), func(ctx context.Context, s Shard) (shardFreeSpace, error) {
		free, err := s.FreeSpace(ctx)
		if err != nil {
			return shardFreeSpace{}, fmt.Errorf("querying free space of shard %q: %w", s.ID(), err)
		}
		return shardFreeSpace{shard: s, free: free}, nil
	})
	if err != nil {
		return nil, err
	}

	best := lo.MaxBy(spaces, func(a, b shardFreeSpace) bool { return a.free > b.free })
	return best.shard, nil
}

// partition groups items by the shard of their id, keeping the registration
// order of shards so results are deterministic.
func partition[T any](fed *Federation, items []T, idOf func(T) model.EntityID) ([]Shard, map[model.ShardID][]T, error) {
	groups := lo.GroupBy(items, func(item T) model.ShardID { return idOf(item).Shard })

	var shards []Shard
	for _, item := range items {
		s, err := fed.Shard(idOf(item))
		if err != nil {
			return nil, nil, err
		}
		if !lo.Contains(shards, s) {
			shards = append(shards, s)
		}
	}
	return shards, groups, nil
}

// writePartitioned partitions items by shard and applies each partition in its
// own session, concurrently. Every shard must report exactly as many affected
// records as it was given, otherwise a *PartialWriteError is returned for it.
// Partitions that succeeded stay committed regardless of failures elsewhere.
func writePartitioned[T any](ctx context.Context, fed *Federation, op string, items []T, idOf func(T) model.EntityID,
	apply func(context.Context, ShardWriter, []T) (int, error)) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	shards, groups, err := partition(fed, items, idOf)
	if err != nil {
		return 0, err
	}

	affected := make([]int, len(shards))
	errs := make([]error, len(shards))

	var wg sync.WaitGroup
	for i, s := range shards {
		part := groups[s.ID()]
		wg.Go(func() {
			var n int
			errs[i] = InSession(ctx, s, func(w ShardWriter) error {
				var err error
				n, err = apply(ctx, w, part)
				if err != nil {
					return fmt.Errorf("%s on shard %q: %w", op, s.ID(), err)
				}
				if n != len(part) {
					return &PartialWriteError{Op: op, Shard: s.ID(), Requested: len(part), Affected: n}
				}
				return nil
			})
			if errs[i] == nil {
				affected[i] = n
			}
		})
	}
	wg.Wait()

	return lo.Sum(affected), errors.Join(errs...)
}

// localIDs extracts the shard-local part of ids.
func localIDs(ids []model.EntityID) []string {
	return lo.Map(ids, func(id model.EntityID, _ int) string { return id.Local })
}

func identity(id model.EntityID) model.EntityID { return id }
