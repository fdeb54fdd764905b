package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"golang.org/x/sync/singleflight"
)

type cachedQuiz struct {
	quiz     entities.Quiz
	loadedAt time.Time
}

// Cache memoizes quizzes from a Source. Concurrent misses for the same id
// share a single lookup. Failed lookups are never cached.
type Cache struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
	mu      sync.RWMutex
	quizzes map[string]cachedQuiz
}

// NewCache wraps source. A zero ttl keeps entries for the life of the process.
func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		quizzes: make(map[string]cachedQuiz),
	}
}

func (c *Cache) GetQuiz(ctx context.Context, quizId string) (entities.Quiz, error) {
	if q, ok := c.lookup(quizId); ok {
		return q, nil
	}
	ch := c.group.DoChan(quizId, func() (interface{}, error) {
		q, err := c.source.GetQuiz(context.WithoutCancel(ctx), quizId)
		if err != nil {
			return nil, err
		}
		if len(q.Questions) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyQuiz, quizId)
		}
		c.mu.Lock()
		c.quizzes[quizId] = cachedQuiz{quiz: q, loadedAt: c.now()}
		c.mu.Unlock()
		return q, nil
	})
	select {
	case <-ctx.Done():
		return entities.Quiz{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return entities.Quiz{}, res.Err
		}
		return res.Val.(entities.Quiz), nil
	}
}

func (c *Cache) lookup(quizId string) (entities.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.quizzes[quizId]
	if !ok {
		return entities.Quiz{}, false
	}
	if c.ttl > 0 && c.now().Sub(entry.loadedAt) > c.ttl {
		return entities.Quiz{}, false
	}
	return entry.quiz, true
}
