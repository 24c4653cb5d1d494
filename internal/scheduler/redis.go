package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "retrier:schedules"

// createScript stores the record only if the name is free.
var createScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[3]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// claimScript re-scores due names to the lease end and returns their records.
var claimScript = redis.NewScript(`
local names = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, name in ipairs(names) do
	local record = redis.call('HGET', KEYS[2], name)
	if record then
		redis.call('ZADD', KEYS[1], ARGV[3], name)
		table.insert(out, record)
	else
		redis.call('ZREM', KEYS[1], name)
	end
end
return out
`)

// RedisStore keeps schedules in a sorted set (name by fire time) and a hash
// (name to record).
type RedisStore struct {
	client  redis.UniversalClient
	dueKey  string
	dataKey string
}

type redisRecord struct {
	Name                  string `json:"name"`
	Target                string `json:"target"`
	Payload               []byte `json:"payload"`
	ExecutionRole         string `json:"execution_role"`
	Description           string `json:"description"`
	ActionAfterCompletion string `json:"action_after_completion"`
	CreatedAt             int64  `json:"created_at"`
}

// NewRedisStore wraps client. An empty prefix uses "retrier:schedules".
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:  client,
		dueKey:  prefix + ":due",
		dataKey: prefix + ":data",
	}, nil
}

func (s *RedisStore) Create(ctx context.Context, sched *Schedule) error {
	record, err := json.Marshal(redisRecord{
		Name:                  sched.Name,
		Target:                sched.Target,
		Payload:               sched.Payload,
		ExecutionRole:         sched.ExecutionRole,
		Description:           sched.Description,
		ActionAfterCompletion: sched.ActionAfterCompletion,
		CreatedAt:             sched.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.dueKey, s.dataKey},
		sched.Name, sched.FireAt.Unix(), record,
	).Int()
	if err != nil {
		return translateRedisErr(err)
	}
	if created == 0 {
		return ErrDuplicateName
	}
	return nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*Schedule, error) {
	leaseEnd := now.Add(lease)
	records, err := claimScript.Run(ctx, s.client,
		[]string{s.dueKey, s.dataKey},
		now.Unix(), limit, leaseEnd.Unix(),
	).StringSlice()
	if err != nil {
		return nil, translateRedisErr(err)
	}

	claimed := make([]*Schedule, 0, len(records))
	for _, raw := range records {
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
		claimed = append(claimed, &Schedule{
			Name:                  rec.Name,
			FireAt:                time.Unix(leaseEnd.Unix(), 0).UTC(),
			Target:                rec.Target,
			Payload:               rec.Payload,
			ExecutionRole:         rec.ExecutionRole,
			Description:           rec.Description,
			ActionAfterCompletion: rec.ActionAfterCompletion,
			CreatedAt:             time.UnixMilli(rec.CreatedAt).UTC(),
		})
	}
	return claimed, nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.dueKey, name)
		pipe.HDel(ctx, s.dataKey, name)
		return nil
	})
	return translateRedisErr(err)
}

func (s *RedisStore) Pending(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.dueKey).Result()
	return n, translateRedisErr(err)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func translateRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}
