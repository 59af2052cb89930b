package memory

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g., Postgres, a seed file).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// loadTimeout bounds a coalesced load, which is shared by every caller waiting on it.
const loadTimeout = 10 * time.Second

// QuizRepository caches quizzes with TTL to avoid repeated loads. A TTL of zero disables
// caching. Every read hands out a deep copy so callers can never edit the cached definition.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(quizID, r.clock()); ok {
		return quiz.Clone(), nil
	}

	// the load must not die with whichever caller happened to start it
	loadCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(quizID, func() (interface{}, error) {
		now := r.clock()
		if quiz, ok := r.cached(quizID, now); ok {
			return quiz, nil
		}

		ctx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		if r.ttl > 0 {
			r.mu.Lock()
			r.cache[quizID] = cachedQuiz{
				quiz:      quiz.Clone(),
				expiresAt: now.Add(r.ttlWithJitter()),
			}
			r.mu.Unlock()
		}
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

// Invalidate drops a cached quiz so the next read reloads it.
func (r *QuizRepository) Invalidate(quizID string) {
	r.mu.Lock()
	delete(r.cache, quizID)
	r.mu.Unlock()
}

func (r *QuizRepository) cached(quizID string, now time.Time) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[quizID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuizLoader struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz.Clone(), nil
	}
	return domain.Quiz{}, errors.Wrapf(domain.ErrQuizNotFound, "quiz %s", quizID)
}

// Put replaces a quiz definition, as course authors do when editing content.
func (l *StaticQuizLoader) Put(quiz domain.Quiz) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quizzes[quiz.ID] = quiz.Clone()
}

// All returns every quiz the loader holds.
func (l *StaticQuizLoader) All() []domain.Quiz {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Quiz, 0, len(l.quizzes))
	for _, quiz := range l.quizzes {
		out = append(out, quiz.Clone())
	}
	return out
}

type quizFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
}

// LoadQuizFile reads quiz definitions from a YAML seed file and validates each of them.
func LoadQuizFile(path string) (*StaticQuizLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read quiz file %s", path)
	}
	var file quizFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse quiz file %s", path)
	}
	quizzes := make(map[string]domain.Quiz, len(file.Quizzes))
	for _, quiz := range file.Quizzes {
		if err := quiz.Validate(); err != nil {
			return nil, err
		}
		quizzes[quiz.ID] = quiz
	}
	return NewStaticQuizLoader(quizzes), nil
}
