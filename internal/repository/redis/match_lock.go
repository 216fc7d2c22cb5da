package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

const defaultMatchLockPrefix = "matching:lock"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = red.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// MatchLock implements port.MatchLocker with SET NX PX and a token-checked release.
type MatchLock struct {
	client *red.Client
	prefix string
}

// NewMatchLock constructs the lock helper.
func NewMatchLock(client *red.Client, keyPrefix string) *MatchLock {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultMatchLockPrefix
	}
	return &MatchLock{client: client, prefix: prefix}
}

var _ port.MatchLocker = (*MatchLock)(nil)

// Acquire takes the per-match lock for ttl. The lock expires on its own if the holder dies.
func (l *MatchLock) Acquire(ctx context.Context, matchID string, ttl time.Duration) (func(context.Context) error, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, errors.New("match id is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	key := fmt.Sprintf("%s:%s", l.prefix, matchID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx match lock: %w", err)
	}
	if !ok {
		return nil, port.ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, red.Nil) {
			return fmt.Errorf("redis release match lock: %w", err)
		}
		return nil
	}, nil
}
