package redis

import (
	"context"
	"sort"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

const (
	unscoredKey = "attempts:unscored"
	// maxUpdateRetries bounds optimistic retries when a watched key changes under us.
	maxUpdateRetries = 16
)

// AttemptStore keeps attempts and results in Redis so several instances can share them.
//
//	attempt:{id}                   attempt JSON
//	attempt:active:{user}:{quiz}   id of the single non-terminal attempt (SETNX)
//	attempts:unscored              set of non-terminal attempt ids
//	result:{id}                    result JSON (SETNX, written once)
type AttemptStore struct {
	client *redis.Client
}

func NewAttemptStore(client *redis.Client) *AttemptStore {
	return &AttemptStore{client: client}
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.Attempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return errors.Wrapf(err, "encode attempt %s", attempt.ID)
	}

	activeKey := activeAttemptKey(attempt.UserID, attempt.QuizID)
	claimed, err := s.client.SetNX(ctx, activeKey, attempt.ID, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "claim active attempt for %s/%s", attempt.UserID, attempt.QuizID)
	}
	if !claimed {
		existing, err := s.client.Get(ctx, activeKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// the holder was scored between SETNX and GET
			return errors.Wrapf(domain.ErrAttemptAlreadyActive, "user %s on quiz %s", attempt.UserID, attempt.QuizID)
		case err != nil:
			return errors.Wrapf(err, "read active attempt for %s/%s", attempt.UserID, attempt.QuizID)
		}
		return errors.Wrapf(domain.ErrAttemptAlreadyActive, "attempt %s", existing)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, attemptKey(attempt.ID), payload, 0)
		pipe.SAdd(ctx, unscoredKey, attempt.ID)
		return nil
	})
	if err != nil {
		// release the claim so the user is not locked out by a half-written attempt
		s.client.Del(ctx, activeKey)
		return errors.Wrapf(err, "store attempt %s", attempt.ID)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.load(ctx, s.client, attemptID)
}

func (s *AttemptStore) FindActive(ctx context.Context, userID, quizID string) (domain.Attempt, error) {
	id, err := s.client.Get(ctx, activeAttemptKey(userID, quizID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "no active attempt for user %s on quiz %s", userID, quizID)
	}
	if err != nil {
		return domain.Attempt{}, errors.Wrap(err, "find active attempt")
	}
	return s.Get(ctx, id)
}

// Update runs mutate under WATCH on the attempt key and retries when another writer wins.
func (s *AttemptStore) Update(ctx context.Context, attemptID string, mutate func(*domain.Attempt) error) (domain.Attempt, error) {
	key := attemptKey(attemptID)
	var updated domain.Attempt

	txf := func(tx *redis.Tx) error {
		attempt, err := s.load(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if err := mutate(&attempt); err != nil {
			return err
		}
		payload, err := json.Marshal(attempt)
		if err != nil {
			return errors.Wrapf(err, "encode attempt %s", attemptID)
		}

		activeKey := activeAttemptKey(attempt.UserID, attempt.QuizID)
		holder, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return errors.Wrap(err, "read active attempt")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if attempt.State.Terminal() {
				pipe.SRem(ctx, unscoredKey, attemptID)
				if holder == attemptID {
					pipe.Del(ctx, activeKey)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = attempt
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Attempt{}, err
		}
		return updated, nil
	}
	return domain.Attempt{}, errors.Errorf("update attempt %s: too much contention", attemptID)
}

func (s *AttemptStore) ListUnscored(ctx context.Context) ([]domain.Attempt, error) {
	ids, err := s.client.SMembers(ctx, unscoredKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list unscored attempts")
	}
	out := make([]domain.Attempt, 0, len(ids))
	for _, id := range ids {
		attempt, err := s.Get(ctx, id)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !attempt.State.Terminal() {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *AttemptStore) SaveResult(ctx context.Context, result domain.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "encode result %s", result.AttemptID)
	}
	stored, err := s.client.SetNX(ctx, resultKey(result.AttemptID), payload, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "store result %s", result.AttemptID)
	}
	if !stored {
		return errors.Wrapf(domain.ErrResultExists, "attempt %s", result.AttemptID)
	}
	return nil
}

func (s *AttemptStore) GetResult(ctx context.Context, attemptID string) (domain.Result, error) {
	payload, err := s.client.Get(ctx, resultKey(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Result{}, errors.Wrapf(domain.ErrResultNotFound, "attempt %s", attemptID)
	}
	if err != nil {
		return domain.Result{}, errors.Wrapf(err, "load result %s", attemptID)
	}
	var result domain.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.Result{}, errors.Wrapf(err, "decode result %s", attemptID)
	}
	return result, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *AttemptStore) load(ctx context.Context, c getter, attemptID string) (domain.Attempt, error) {
	payload, err := c.Get(ctx, attemptKey(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Attempt{}, errors.Wrapf(domain.ErrAttemptNotFound, "attempt %s", attemptID)
	}
	if err != nil {
		return domain.Attempt{}, errors.Wrapf(err, "load attempt %s", attemptID)
	}
	var attempt domain.Attempt
	if err := json.Unmarshal(payload, &attempt); err != nil {
		return domain.Attempt{}, errors.Wrapf(err, "decode attempt %s", attemptID)
	}
	if attempt.Answers == nil {
		attempt.Answers = make(map[string][]int)
	}
	return attempt, nil
}

func attemptKey(attemptID string) string {
	return "attempt:" + attemptID
}

func activeAttemptKey(userID, quizID string) string {
	return "attempt:active:" + userID + ":" + quizID
}

func resultKey(attemptID string) string {
	return "result:" + attemptID
}
