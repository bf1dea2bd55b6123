package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"folio/internal/feed"
	"folio/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryStore keeps comments in a map. It honours the same revision semantics as
// GormStore and is used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	comments map[string]*models.Comment
	pub      feed.Publisher
}

func NewMemoryStore(pub feed.Publisher) *MemoryStore {
	if pub == nil {
		pub = feed.Nop{}
	}
	return &MemoryStore{
		comments: make(map[string]*models.Comment),
		pub:      pub,
	}
}

func (m *MemoryStore) Create(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Rev = uuid.NewString()
	c.Version = 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.comments[c.ID]; exists {
		return ErrConflict
	}
	m.comments[c.ID] = c.Clone()

	m.publish(ctx, feed.TransitionAppear, c.Clone())
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) ListByPost(_ context.Context, postID string, opts ListOptions) ([]models.Comment, error) {
	m.mu.RLock()
	result := make([]models.Comment, 0)
	for _, c := range m.comments {
		if c.PostID != postID {
			continue
		}
		if opts.ApprovedOnly && !c.Approved {
			continue
		}
		result = append(result, *c.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Commit(ctx context.Context, id string, p Patch) (*models.Comment, error) {
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Rev != p.IfRevisionID {
		return nil, ErrConflict
	}
	next := c.Clone()
	apply(next, p)
	next.Rev = uuid.NewString()
	next.Version = c.Version + 1
	m.comments[id] = next

	// 持锁发布，保证事件顺序与写入顺序一致（Hub.Publish 不阻塞）
	m.publish(ctx, feed.TransitionUpdate, next.Clone())
	return next.Clone(), nil
}

// Put stores c verbatim, bypassing revision checks. Seeds legacy rows in tests.
func (m *MemoryStore) Put(c *models.Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ID] = c.Clone()
}

func (m *MemoryStore) publish(ctx context.Context, t feed.Transition, c *models.Comment) {
	if err := m.pub.Publish(ctx, feed.Event{Transition: t, DocumentID: c.ID, Result: c}); err != nil {
		logrus.WithError(err).WithField("comment_id", c.ID).Warn("publish change event")
	}
}
