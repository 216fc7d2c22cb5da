package port

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when another writer holds the match lock.
var ErrLockHeld = errors.New("match lock held by another writer")

// MatchLocker serialises writers per match id.
type MatchLocker interface {
	// Acquire returns a release func. It fails with ErrLockHeld on contention.
	Acquire(ctx context.Context, matchID string, ttl time.Duration) (release func(context.Context) error, err error)
}
