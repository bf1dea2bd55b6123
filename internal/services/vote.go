package services

import (
	"context"
	"time"

	"folio/internal/models"
	"folio/internal/store"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidVote = errors.New("invalid vote")
	// ErrUnavailable means the store kept failing after the lookup retries.
	ErrUnavailable       = errors.New("comment store unavailable")
	ErrConflictExhausted = errors.New("vote conflict retry exhausted")
)

// VoteService 计数器加减，依赖存储层的 rev 条件写入保证并发正确性
type VoteService struct {
	store    store.Store
	attempts int
	backoff  time.Duration
	onCommit func(*models.Comment)
}

type VoteOption func(*VoteService)

// WithFetchRetry sets how often a transiently failing lookup is attempted and the
// base delay; attempt n waits n*backoff before the next try.
func WithFetchRetry(attempts int, backoff time.Duration) VoteOption {
	return func(s *VoteService) {
		if attempts > 0 {
			s.attempts = attempts
		}
		s.backoff = backoff
	}
}

// WithCommitHook runs fn after each successful counter commit.
func WithCommitHook(fn func(*models.Comment)) VoteOption {
	return func(s *VoteService) {
		s.onCommit = fn
	}
}

func NewVoteService(st store.Store, opts ...VoteOption) *VoteService {
	s := &VoteService{
		store:    st,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateVote 校验投票类型和动作
func ValidateVote(id string, kind models.VoteKind, action models.VoteAction) error {
	if id == "" || kind == "" || action == "" {
		return errors.Wrap(ErrInvalidVote, "missing required fields")
	}
	if kind != models.VoteLike && kind != models.VoteUpvote {
		return errors.Wrap(ErrInvalidVote, "invalid vote type")
	}
	if action != models.ActionAdd && action != models.ActionRemove {
		return errors.Wrap(ErrInvalidVote, "invalid action")
	}
	return nil
}

// NextCount 计算新的计数值，remove 不会低于 0
func NextCount(current int, action models.VoteAction) int {
	if action == models.ActionAdd {
		return current + 1
	}
	if current <= 1 {
		return 0
	}
	return current - 1
}

// Vote applies one add/remove delta to the like or upvote counter of a comment.
// A stale revision is retried exactly once against a freshly read record.
func (s *VoteService) Vote(ctx context.Context, id string, kind models.VoteKind, action models.VoteAction) (*models.Comment, error) {
	if err := ValidateVote(id, kind, action); err != nil {
		return nil, err
	}
	field := kind.Field()
	log := logrus.WithFields(logrus.Fields{"comment_id": id, "type": kind, "action": action})

	current, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err = s.ensureCounter(ctx, current, field)
	if err != nil {
		return nil, err
	}

	updated, err := s.commit(ctx, current, field, action)
	if errors.Is(err, store.ErrConflict) {
		log.Info("vote conflict, retrying against latest revision")
		latest, ferr := s.fetch(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		updated, err = s.commit(ctx, latest, field, action)
		if errors.Is(err, store.ErrConflict) {
			log.Warn("vote conflict retry exhausted")
			return nil, errors.Wrap(ErrConflictExhausted, err.Error())
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	if s.onCommit != nil {
		s.onCommit(updated)
	}
	return updated, nil
}

// fetch 读取评论，存储层临时故障时按线性退避重试；不存在则立即返回
func (s *VoteService) fetch(ctx context.Context, id string) (*models.Comment, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		c, err := s.store.Get(ctx, id)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		lastErr = err
		logrus.WithError(err).WithFields(logrus.Fields{"comment_id": id, "attempt": attempt}).
			Warn("comment lookup failed")

		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ErrUnavailable, ctx.Err().Error())
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	return nil, errors.Wrap(ErrUnavailable, lastErr.Error())
}

// ensureCounter 旧数据可能缺少计数字段，先以当前 rev 条件写入 0
func (s *VoteService) ensureCounter(ctx context.Context, c *models.Comment, field string) (*models.Comment, error) {
	if _, ok := c.Counter(field); ok {
		return c, nil
	}
	healed, err := s.store.Commit(ctx, c.ID, store.Patch{
		IfRevisionID: c.Rev,
		SetIfMissing: map[string]int{field: 0},
	})
	switch {
	case err == nil:
		return healed, nil
	case errors.Is(err, store.ErrConflict):
		// 其他写入者已修改记录，直接读取最新版本
		return s.fetch(ctx, c.ID)
	case errors.Is(err, store.ErrNotFound):
		return nil, store.ErrNotFound
	default:
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
}

func (s *VoteService) commit(ctx context.Context, c *models.Comment, field string, action models.VoteAction) (*models.Comment, error) {
	value, _ := c.Counter(field)
	return s.store.Commit(ctx, c.ID, store.Patch{
		IfRevisionID: c.Rev,
		Set:          map[string]int{field: NextCount(value, action)},
	})
}
