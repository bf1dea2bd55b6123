// Package store is the document store contract for comments: fetch, list,
// create and revision-conditioned patch, with change events published on every write.
package store

import (
	"context"
	"fmt"

	"folio/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("comment not found")
	// ErrConflict means the supplied revision is stale.
	ErrConflict     = errors.New("revision conflict")
	ErrInvalidPatch = errors.New("invalid patch")
)

// Patch 条件写入：IfRevisionID 必须与当前版本一致
type Patch struct {
	IfRevisionID string
	Set          map[string]int
	SetIfMissing map[string]int
}

// ListOptions 列表查询条件
type ListOptions struct {
	ApprovedOnly bool
}

type Store interface {
	Create(ctx context.Context, c *models.Comment) error
	Get(ctx context.Context, id string) (*models.Comment, error)
	ListByPost(ctx context.Context, postID string, opts ListOptions) ([]models.Comment, error)
	Commit(ctx context.Context, id string, p Patch) (*models.Comment, error)
}

func validatePatch(p Patch) error {
	if p.IfRevisionID == "" {
		return errors.Wrap(ErrInvalidPatch, "missing revision")
	}
	if len(p.Set) == 0 && len(p.SetIfMissing) == 0 {
		return errors.Wrap(ErrInvalidPatch, "empty patch")
	}
	for _, fields := range []map[string]int{p.Set, p.SetIfMissing} {
		for f, v := range fields {
			if f != models.FieldLikes && f != models.FieldUpvotes {
				return errors.Wrap(ErrInvalidPatch, fmt.Sprintf("unknown field %q", f))
			}
			if v < 0 {
				return errors.Wrap(ErrInvalidPatch, fmt.Sprintf("negative value for %q", f))
			}
		}
	}
	return nil
}

// apply 在内存中执行 patch（MemoryStore 和测试共用）
func apply(c *models.Comment, p Patch) {
	for f, v := range p.SetIfMissing {
		if _, ok := c.Counter(f); !ok {
			c.SetCounter(f, v)
		}
	}
	for f, v := range p.Set {
		c.SetCounter(f, v)
	}
}
