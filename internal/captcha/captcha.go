// Package captcha issues and consumes human-verification challenges backed by
// a TTL store. Rendering the challenge image is someone else's job; this
// package owns only the verify/consume contract: a challenge is one-shot and
// is consumed whether verification succeeds or fails.
package captcha

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrExpired = errors.New("captcha challenge expired or already consumed")
	ErrWrong   = errors.New("captcha answer incorrect")
)

const keyPrefix = "captcha:"

// Store keeps challenges in Redis with a TTL; expiry is enforced by the key's
// lifetime, never by a sweep the correctness depends on.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Issue registers a challenge answer under a fresh id and returns the id.
func (s *Store) Issue(ctx context.Context, answer string) (string, error) {
	id := uuid.New().String()
	if err := s.rdb.Set(ctx, keyPrefix+id, normalize(answer), s.ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Verify consumes the challenge in one shot (GETDEL), so a second attempt
// against the same id fails regardless of the first outcome.
func (s *Store) Verify(ctx context.Context, challengeID, answer string) error {
	want, err := s.rdb.GetDel(ctx, keyPrefix+challengeID).Result()
	if errors.Is(err, redis.Nil) {
		return ErrExpired
	}
	if err != nil {
		return err
	}
	if normalize(answer) != want {
		return ErrWrong
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
