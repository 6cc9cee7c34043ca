package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS=[lock key] ARGV=[owner token]
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

var releaseScript = redis.NewScript(releaseLua)

const (
	minPoll = 5 * time.Millisecond
	maxPoll = 100 * time.Millisecond
)

// Redis is a Locker shared by every process talking to the same redis. A lock whose holder
// dies is released after ttl.
type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, prefix: "lock:"}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()
	wait := minPoll
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrNotAcquired
			}
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// release must run even if the caller's ctx is done
					_ = releaseScript.Run(context.Background(), r.rdb, []string{k}, token).Err()
				})
			}, nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ErrNotAcquired
		case <-t.C:
		}
		if wait *= 2; wait > maxPoll {
			wait = maxPoll
		}
	}
}
