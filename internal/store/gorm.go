package store

import (
	"context"
	"time"

	"folio/internal/feed"
	"folio/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormStore 基于 gorm 的评论存储，乐观锁通过 rev 列实现
type GormStore struct {
	db  *gorm.DB
	pub feed.Publisher
}

func NewGormStore(db *gorm.DB, pub feed.Publisher) *GormStore {
	if pub == nil {
		pub = feed.Nop{}
	}
	return &GormStore{db: db, pub: pub}
}

func (s *GormStore) Create(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Rev = uuid.NewString()
	c.Version = 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return errors.Wrap(err, "create comment")
	}
	s.publish(ctx, feed.TransitionAppear, c.Clone())
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get comment")
	}
	return &c, nil
}

func (s *GormStore) ListByPost(ctx context.Context, postID string, opts ListOptions) ([]models.Comment, error) {
	query := s.db.WithContext(ctx).Where("post_id = ?", postID)
	if opts.ApprovedOnly {
		query = query.Where("approved = ?", true)
	}

	comments := make([]models.Comment, 0)
	if err := query.Order("created_at DESC").Find(&comments).Error; err != nil {
		return nil, errors.Wrap(err, "list comments")
	}
	return comments, nil
}

// Commit 条件更新：只有 rev 与 IfRevisionID 一致时才写入
func (s *GormStore) Commit(ctx context.Context, id string, p Patch) (*models.Comment, error) {
	if err := validatePatch(p); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"rev":     uuid.NewString(),
		"version": gorm.Expr("version + 1"),
	}
	for f, v := range p.SetIfMissing {
		// 字段名已在 validatePatch 中白名单校验
		updates[f] = gorm.Expr("COALESCE("+f+", ?)", v)
	}
	for f, v := range p.Set {
		updates[f] = v
	}

	var updated models.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).
			Where("id = ? AND rev = ?", id, p.IfRevisionID).
			UpdateColumns(updates)
		if res.Error != nil {
			return errors.Wrap(res.Error, "commit comment patch")
		}
		if res.RowsAffected == 0 {
			// 区分记录不存在和版本冲突
			var count int64
			if err := tx.Model(&models.Comment{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return errors.Wrap(err, "check comment existence")
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return errors.Wrap(err, "reload comment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 事件可能乱序到达订阅者，订阅方按 Version 丢弃旧事件
	s.publish(ctx, feed.TransitionUpdate, updated.Clone())
	return &updated, nil
}

func (s *GormStore) publish(ctx context.Context, t feed.Transition, c *models.Comment) {
	if err := s.pub.Publish(ctx, feed.Event{Transition: t, DocumentID: c.ID, Result: c}); err != nil {
		logrus.WithError(err).WithField("comment_id", c.ID).Warn("publish change event")
	}
}
