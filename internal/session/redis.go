package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"image-captioner/internal/models"
	redisclient "image-captioner/pkg/database/redis"
)

const keyPrefix = "caption:session:"

var beginScript = redis.NewScript(`
local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
redis.call('HSET', KEYS[1], 'state', ARGV[1])
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return seq
`)

var commitScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'seq')
if not current or tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Redis is a Store shared by every gateway replica. Sequence checks run inside Lua scripts so
// Begin and Commit are atomic.
type Redis struct {
	client *redisclient.Client
	ttl    time.Duration
}

func NewRedis(client *redisclient.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, id string) (models.State, uint64, error) {
	vals, err := r.client.HashFields(ctx, keyPrefix+id, "seq", "state")
	if err != nil {
		return models.State{}, 0, err
	}

	var seq uint64
	if raw, ok := vals[0].(string); ok {
		seq, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return models.State{}, 0, fmt.Errorf("failed to parse session sequence: %w", err)
		}
	}

	raw, ok := vals[1].(string)
	if !ok {
		return models.IdleState(), seq, nil
	}
	var state models.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.State{}, 0, fmt.Errorf("failed to decode session state: %w", err)
	}
	return state, seq, nil
}

func (r *Redis) Begin(ctx context.Context, id string, state models.State) (uint64, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to encode session state: %w", err)
	}
	seq, err := r.client.Run(ctx, beginScript, []string{keyPrefix + id}, payload, r.ttl.Milliseconds())
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (r *Redis) Commit(ctx context.Context, id string, seq uint64, state models.State) (bool, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to encode session state: %w", err)
	}
	applied, err := r.client.Run(ctx, commitScript, []string{keyPrefix + id}, seq, payload, r.ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}
