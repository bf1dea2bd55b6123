package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"folio/internal/feed"
	"folio/internal/models"
	"folio/internal/store"
	"folio/internal/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidComment = errors.New("invalid comment")
	ErrParentNotFound = errors.New("parent comment not found")
	ErrTooDeep        = errors.New("reply nesting too deep")
)

const listCacheKey = "comments:post:%s"

// CommentInput 访客提交的评论
type CommentInput struct {
	Name     string
	Email    string
	Comment  string
	PostID   string
	ParentID string
}

type CommentOptions struct {
	AutoApprove bool
	MaxLength   int
	MaxDepth    int
	CacheTTL    time.Duration
	SiteURL     string
}

// ReplyNotifier is told about replies so the parent's author can be emailed.
type ReplyNotifier interface {
	SendReplyNotification(parent, reply *models.Comment, link string)
}

type CommentService struct {
	store    store.Store
	opts     CommentOptions
	cache    *utils.TTLCache[[]models.Comment]
	notifier ReplyNotifier

	// 每个文章的缓存代数，Invalidate 时递增；读库期间代数变化则不写缓存
	genMu sync.Mutex
	gens  map[string]uint64
}

func NewCommentService(st store.Store, opts CommentOptions, notifier ReplyNotifier) (*CommentService, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = 500
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 2
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	cache, err := utils.NewTTLCache[[]models.Comment](500, opts.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &CommentService{
		store:    st,
		opts:     opts,
		cache:    cache,
		notifier: notifier,
		gens:     make(map[string]uint64),
	}, nil
}

// Create 校验并保存一条新评论或回复
func (s *CommentService) Create(ctx context.Context, in CommentInput) (*models.Comment, error) {
	// 名字会进入邮件标题，折叠换行等空白字符
	name := strings.Join(strings.Fields(utils.SanitizeText(in.Name)), " ")
	email := strings.TrimSpace(in.Email)
	body := utils.SanitizeText(in.Comment)
	postID := strings.TrimSpace(in.PostID)
	parentID := strings.TrimSpace(in.ParentID)

	if name == "" || email == "" || body == "" || postID == "" {
		return nil, errors.Wrap(ErrInvalidComment, "missing required fields")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidComment, "invalid email")
	}
	email = addr.Address
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return nil, errors.Wrap(ErrInvalidComment, "invalid name")
	}
	if utf8.RuneCountInString(body) > s.opts.MaxLength {
		return nil, errors.Wrap(ErrInvalidComment, fmt.Sprintf("comment longer than %d characters", s.opts.MaxLength))
	}
	if utf8.RuneCountInString(name) > 100 {
		return nil, errors.Wrap(ErrInvalidComment, "name too long")
	}

	var parent *models.Comment
	if parentID != "" {
		p, err := s.store.Get(ctx, parentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrParentNotFound
			}
			return nil, err
		}
		if p.PostID != postID {
			return nil, errors.Wrap(ErrInvalidComment, "parent belongs to another post")
		}
		depth, err := s.depth(ctx, p)
		if err != nil {
			return nil, err
		}
		if depth >= s.opts.MaxDepth {
			return nil, ErrTooDeep
		}
		parent = p
	}

	c := &models.Comment{
		PostID:   postID,
		Name:     name,
		Email:    email,
		Body:     body,
		Approved: s.opts.AutoApprove,
		Likes:    models.IntPtr(0),
		Upvotes:  models.IntPtr(0),
	}
	if parent != nil {
		c.ParentID = &parent.ID
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Invalidate(postID)

	logrus.WithFields(logrus.Fields{"comment_id": c.ID, "post_id": postID, "reply": parent != nil}).
		Info("comment created")

	// 回复时邮件通知被回复者
	if parent != nil && parent.Approved && s.notifier != nil && parent.Email != "" && parent.Email != c.Email {
		link := fmt.Sprintf("%s/blog/%s#comment-%s", s.opts.SiteURL, postID, c.ID)
		s.notifier.SendReplyNotification(parent, c, link)
	}
	return c, nil
}

// depth 返回评论所在层级，根评论为 0
func (s *CommentService) depth(ctx context.Context, c *models.Comment) (int, error) {
	depth := 0
	for c.ParentID != nil {
		depth++
		if depth > s.opts.MaxDepth {
			break
		}
		p, err := s.store.Get(ctx, *c.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// 父评论已被后台删除，按当前层级计算
				break
			}
			return 0, err
		}
		c = p
	}
	return depth, nil
}

// List returns the approved comments of a post, newest first, with rendered html.
func (s *CommentService) List(ctx context.Context, postID string) ([]models.Comment, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, errors.Wrap(ErrInvalidComment, "missing postId")
	}

	key := fmt.Sprintf(listCacheKey, postID)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	gen := s.generation(postID)
	comments, err := s.store.ListByPost(ctx, postID, store.ListOptions{ApprovedOnly: true})
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].HTML = utils.RenderComment(comments[i].Body)
	}

	s.genMu.Lock()
	if s.gens[postID] == gen {
		s.cache.Set(key, comments)
	}
	s.genMu.Unlock()
	return comments, nil
}

func (s *CommentService) generation(postID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[postID]
}

// Get 读取单条评论
func (s *CommentService) Get(ctx context.Context, id string) (*models.Comment, error) {
	return s.store.Get(ctx, id)
}

// Invalidate 主动失效列表缓存
func (s *CommentService) Invalidate(postID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[postID]++
	s.cache.Delete(fmt.Sprintf(listCacheKey, postID))
}

// WatchChanges invalidates cached lists for every change event on f, including writes
// made by other server instances. It returns once the subscription is established and
// stops when ctx is cancelled.
func (s *CommentService) WatchChanges(ctx context.Context, f feed.Feed) error {
	sub, err := f.Subscribe(ctx, feed.AllDocuments)
	if err != nil {
		return errors.Wrap(err, "watch comment changes")
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.Result != nil && ev.Result.PostID != "" {
					s.Invalidate(ev.Result.PostID)
				}
			}
		}
	}()
	return nil
}
