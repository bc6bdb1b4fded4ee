package window

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayusman/mudra/internal/features"
)

// pushScript appends a frame, trims the list to capacity and returns either
// the current length or, once full, the whole window. Running it as one
// script keeps push and the fullness check atomic on the server.
var pushScript = redis.NewScript(`
local capacity = tonumber(ARGV[2])
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], -capacity, -1)
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
local n = redis.call('LLEN', KEYS[1])
if n >= capacity then
	return redis.call('LRANGE', KEYS[1], 0, -1)
end
return n
`)

// Redis returns a Factory of buffers stored as Redis lists under prefix+key.
// Each list expires after ttl without pushes; zero disables expiry.
func Redis(client *redis.Client, prefix string, ttl time.Duration) Factory {
	return func(key string, capacity int) Buffer {
		if capacity < 1 {
			capacity = 1
		}
		return &redisBuffer{
			client:   client,
			key:      prefix + key,
			capacity: capacity,
			ttl:      ttl,
		}
	}
}

type redisBuffer struct {
	client   *redis.Client
	key      string
	capacity int
	ttl      time.Duration
}

func (b *redisBuffer) Push(ctx context.Context, v features.Vector) (Status, error) {
	result, err := pushScript.Run(ctx, b.client, []string{b.key},
		encodeVector(v), b.capacity, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Status{}, fmt.Errorf("push %s: %w", b.key, err)
	}

	switch r := result.(type) {
	case int64:
		n := int(r)
		return Status{State: Collecting, Collected: n, Needed: b.capacity - n}, nil
	case []interface{}:
		window := make([]features.Vector, 0, len(r))
		for i, item := range r {
			s, ok := item.(string)
			if !ok {
				return Status{}, fmt.Errorf("push %s: frame %d has type %T", b.key, i, item)
			}
			vec, err := decodeVector([]byte(s))
			if err != nil {
				return Status{}, fmt.Errorf("push %s: frame %d: %w", b.key, i, err)
			}
			window = append(window, vec)
		}
		return Status{State: Ready, Collected: len(window), Window: window}, nil
	default:
		return Status{}, fmt.Errorf("push %s: unexpected reply %T", b.key, result)
	}
}

func (b *redisBuffer) Reset(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}

func (b *redisBuffer) Evict(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return b.client.LTrim(ctx, b.key, int64(n), -1).Err()
}

func (b *redisBuffer) Len(ctx context.Context) (int, error) {
	n, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *redisBuffer) Capacity() int {
	return b.capacity
}

// encodeVector packs float32 values little-endian, 4 bytes each.
func encodeVector(v features.Vector) []byte {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(x))
	}
	return data
}

func decodeVector(data []byte) (features.Vector, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("frame length %d is not a multiple of 4", len(data))
	}
	v := make(features.Vector, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}
