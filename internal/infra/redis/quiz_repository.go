package redis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g., Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// loadTimeout bounds a coalesced load, which is shared by every caller waiting on it.
const loadTimeout = 10 * time.Second

// QuizRepository caches whole quiz definitions in Redis and falls back to a loader on cache miss.
// Quizzes are stored as: SET quiz:{quizID} {json} EX ttl. A TTL of zero disables caching.
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if r.ttl > 0 {
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(quizID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()

		// Re-check cache in case another goroutine filled it.
		if r.ttl > 0 {
			if quiz, ok := r.cached(ctx, quizID); ok {
				return quiz, nil
			}
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if r.ttl <= 0 {
			return quiz, nil
		}

		payload, err := json.Marshal(quiz)
		if err != nil {
			return domain.Quiz{}, errors.Wrapf(err, "encode quiz %s", quizID)
		}
		// a failed cache write only costs another load
		_ = r.client.Set(ctx, quizKey(quizID), payload, r.ttlWithJitter()).Err()
		return quiz, nil
	})

	select {
	case <-ctx.Done():
		return domain.Quiz{}, errors.Wrapf(ctx.Err(), "load quiz %s", quizID)
	case res := <-ch:
		if res.Err != nil {
			return domain.Quiz{}, res.Err
		}
		return res.Val.(domain.Quiz).Clone(), nil
	}
}

// Invalidate drops the cached copy so the next read goes to the loader.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return errors.Wrapf(r.client.Del(ctx, quizKey(quizID)).Err(), "invalidate quiz %s", quizID)
}

func (r *QuizRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	payload, err := r.client.Get(ctx, quizKey(quizID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(payload, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func quizKey(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
