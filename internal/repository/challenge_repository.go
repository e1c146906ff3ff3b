package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/board-api/internal/models"
	"github.com/noah-isme/board-api/pkg/security"
)

var (
	// ErrChallengeNotFound means no live challenge exists for the recipient.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeMismatch means a live challenge exists but the digest differs.
	ErrChallengeMismatch = errors.New("challenge digest mismatch")
)

const (
	defaultChallengePrefix = "challenge:email"
	consumeMaxRetries      = 4
)

// ChallengeRepository keeps one pending email challenge per recipient in Redis.
type ChallengeRepository struct {
	client *redis.Client
	prefix string
}

// NewChallengeRepository constructs a challenge store under the given key prefix.
func NewChallengeRepository(client *redis.Client, prefix string) *ChallengeRepository {
	if prefix == "" {
		prefix = defaultChallengePrefix
	}
	return &ChallengeRepository{client: client, prefix: prefix}
}

func (r *ChallengeRepository) key(recipient string) string {
	return r.prefix + ":" + recipient
}

// Save stores the challenge, replacing any earlier one for the same recipient.
// The Redis TTL mirrors ExpiresAt so abandoned entries disappear on their own.
func (r *ChallengeRepository) Save(ctx context.Context, challenge *models.Challenge) error {
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save challenge for %s: already expired", challenge.Recipient)
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	if err := r.client.Set(ctx, r.key(challenge.Recipient), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set challenge: %w", err)
	}
	return nil
}

// Consume deletes the recipient's challenge if digest matches and it has not expired at now.
// The read, compare and delete run in one optimistic transaction, so a challenge is consumed at most once.
func (r *ChallengeRepository) Consume(ctx context.Context, recipient, digest string, now time.Time) error {
	key := r.key(recipient)

	for i := 0; i < consumeMaxRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrChallengeNotFound
				}
				return err
			}

			var challenge models.Challenge
			if err := json.Unmarshal(raw, &challenge); err != nil {
				return fmt.Errorf("unmarshal challenge: %w", err)
			}

			if challenge.Expired(now) {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrChallengeNotFound
			}

			if !security.Equal(challenge.Digest, digest) {
				return ErrChallengeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrChallengeNotFound) && !errors.Is(err, ErrChallengeMismatch) {
			return fmt.Errorf("redis consume challenge: %w", err)
		}
		return err
	}

	return fmt.Errorf("redis consume challenge: %w", redis.TxFailedErr)
}
