package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps progress in Redis so several machines' runs, or a
// container restart, can share it.
//
// Keys:
//
//	<prefix>:progress:<category>:completed  set of page numbers
//	<prefix>:progress:meta                   hash of totals and counters
type RedisStore struct {
	redis  redis.Cmdable
	prefix string
}

// NewRedisStore creates a store using prefix for every key.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "names"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) completedKey(cat model.Category) string {
	return fmt.Sprintf("%s:progress:%s:completed", s.prefix, cat)
}

func (s *RedisStore) metaKey() string {
	return s.prefix + ":progress:meta"
}

// Load reads every category's completed set and the meta hash.
func (s *RedisStore) Load(ctx context.Context) (State, error) {
	state := NewState()

	meta, err := s.redis.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis hgetall: %w", err)
	}

	for _, cat := range model.Categories {
		members, err := s.redis.SMembers(ctx, s.completedKey(cat)).Result()
		if err != nil {
			return State{}, fmt.Errorf("redis smembers %s: %w", cat, err)
		}

		total, _ := strconv.Atoi(meta["total_pages:"+string(cat)])
		records, _ := strconv.Atoi(meta["records:"+string(cat)])
		if len(members) == 0 && total == 0 {
			continue
		}

		set := make(map[int]struct{}, len(members))
		for _, m := range members {
			page, err := strconv.Atoi(m)
			if err != nil || page < 1 {
				return State{}, fmt.Errorf("%w: page %q in %s", ErrCorrupt, m, s.completedKey(cat))
			}
			set[page] = struct{}{}
		}

		cs := state.Category(cat)
		cs.CompletedPages = sortedPages(set)
		cs.TotalPages = total
		cs.Records = records
	}

	state.TotalRecords, _ = strconv.Atoi(meta["total_records"])
	if ts := meta["last_updated"]; ts != "" {
		state.LastUpdated, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return state, nil
}

// Save adds completed pages and overwrites the meta hash in one transaction.
// Completed sets only grow; use Clear to start over.
func (s *RedisStore) Save(ctx context.Context, state State) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields := []interface{}{
			"total_records", state.TotalRecords,
			"last_updated", state.LastUpdated.UTC().Format(time.RFC3339Nano),
		}
		for _, cat := range model.Categories {
			cs, ok := state.Categories[cat]
			if !ok || cs == nil {
				continue
			}
			if len(cs.CompletedPages) > 0 {
				members := make([]interface{}, len(cs.CompletedPages))
				for i, p := range cs.CompletedPages {
					members[i] = p
				}
				pipe.SAdd(ctx, s.completedKey(cat), members...)
			}
			fields = append(fields,
				"total_pages:"+string(cat), cs.TotalPages,
				"records:"+string(cat), cs.Records,
			)
		}
		pipe.HSet(ctx, s.metaKey(), fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save progress: %w", err)
	}
	return nil
}

// Clear deletes all persisted progress.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := []string{s.metaKey()}
	for _, cat := range model.Categories {
		keys = append(keys, s.completedKey(cat))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
