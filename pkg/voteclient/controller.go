// Package voteclient is the visitor side of comment voting: it remembers which comments
// the visitor has liked or upvoted, applies toggles optimistically and rolls them back
// when the server rejects them.
package voteclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"folio/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// 本地存储中的访客 ID 键
const visitorKey = "userId"

// Voter sends one vote intent to the server.
type Voter interface {
	Vote(ctx context.Context, commentID string, kind models.VoteKind, action models.VoteAction) (*models.Comment, error)
}

// Outcome 描述一次 Toggle 的结果
type Outcome int

const (
	// OutcomeIgnored: the same comment and kind already had a toggle in flight.
	OutcomeIgnored Outcome = iota
	OutcomeCommitted
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Counts 界面上显示的计数
type Counts struct {
	Likes   int `json:"likes"`
	Upvotes int `json:"upvotes"`
}

func (c Counts) get(kind models.VoteKind) int {
	if kind == models.VoteUpvote {
		return c.Upvotes
	}
	return c.Likes
}

func (c Counts) with(kind models.VoteKind, v int) Counts {
	if kind == models.VoteUpvote {
		c.Upvotes = v
	} else {
		c.Likes = v
	}
	return c
}

// votedComments 与存储中的 JSON 结构一致
type votedComments struct {
	Likes   []string `json:"likes"`
	Upvotes []string `json:"upvotes"`
}

// Controller holds one visitor's vote state for the comments of one post.
type Controller struct {
	mu        sync.Mutex
	postID    string
	visitorID string
	storage   Storage
	voter     Voter

	voted    map[models.VoteKind]map[string]bool
	counts   map[string]Counts
	inFlight map[string]bool
}

// New loads (or creates) the visitor id and the stored vote sets for postID.
func New(postID string, storage Storage, voter Voter) *Controller {
	c := &Controller{
		postID:  postID,
		storage: storage,
		voter:   voter,
		voted: map[models.VoteKind]map[string]bool{
			models.VoteLike:   {},
			models.VoteUpvote: {},
		},
		counts:   make(map[string]Counts),
		inFlight: make(map[string]bool),
	}

	visitorID, ok := storage.Get(visitorKey)
	if !ok || visitorID == "" {
		visitorID = uuid.NewString()
		if err := storage.Set(visitorKey, visitorID); err != nil {
			logrus.WithError(err).Warn("persist visitor id")
		}
	}
	c.visitorID = visitorID

	if raw, ok := storage.Get(c.votesKey()); ok {
		var stored votedComments
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			logrus.WithError(err).WithField("post_id", postID).Warn("Failed to parse cached votes")
		} else {
			for _, id := range stored.Likes {
				c.voted[models.VoteLike][id] = true
			}
			for _, id := range stored.Upvotes {
				c.voted[models.VoteUpvote][id] = true
			}
		}
	}
	return c
}

func (c *Controller) votesKey() string {
	return fmt.Sprintf("votes_%s_%s", c.postID, c.visitorID)
}

func (c *Controller) VisitorID() string {
	return c.visitorID
}

// Toggle flips the visitor's like or upvote on commentID. The local state changes before
// the server is asked; if the server call fails the pre-toggle state is restored.
func (c *Controller) Toggle(ctx context.Context, commentID string, kind models.VoteKind) Outcome {
	if commentID == "" || kind.Field() == "" {
		return OutcomeIgnored
	}
	key := inFlightKey(commentID, kind)

	c.mu.Lock()
	if c.inFlight[key] {
		c.mu.Unlock()
		return OutcomeIgnored
	}
	c.inFlight[key] = true

	hadVoted := c.voted[kind][commentID]
	prevCount := c.counts[commentID].get(kind)

	action := models.ActionAdd
	next := prevCount + 1
	if hadVoted {
		action = models.ActionRemove
		next = max(0, prevCount-1)
	}
	c.setVoted(kind, commentID, !hadVoted)
	c.counts[commentID] = c.counts[commentID].with(kind, next)
	c.persist()
	c.mu.Unlock()

	err := c.send(ctx, commentID, kind, action)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)

	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"comment_id": commentID,
			"type":       kind,
			"action":     action,
		}).Warn("vote failed, rolling back")
		c.setVoted(kind, commentID, hadVoted)
		c.counts[commentID] = c.counts[commentID].with(kind, prevCount)
		c.persist()
		return OutcomeRolledBack
	}
	return OutcomeCommitted
}

// send 调用 Voter，panic 也按失败处理
func (c *Controller) send(ctx context.Context, commentID string, kind models.VoteKind, action models.VoteAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("voter panicked: %v", r)
		}
	}()
	_, err = c.voter.Vote(ctx, commentID, kind, action)
	return err
}

// SetComments replaces the displayed counters with a freshly listed set of comments.
func (c *Controller) SetComments(comments []models.Comment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range comments {
		c.applyLocked(&comments[i])
	}
}

// ApplyRemote reconciles displayed counters with a record pushed by the server. Counters
// with a toggle in flight keep their optimistic value.
func (c *Controller) ApplyRemote(comment *models.Comment) {
	if comment == nil || comment.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(comment)
}

func (c *Controller) applyLocked(comment *models.Comment) {
	counts := c.counts[comment.ID]
	for _, kind := range []models.VoteKind{models.VoteLike, models.VoteUpvote} {
		if c.inFlight[inFlightKey(comment.ID, kind)] {
			continue
		}
		v, _ := comment.Counter(kind.Field())
		counts = counts.with(kind, max(0, v))
	}
	c.counts[comment.ID] = counts
}

func (c *Controller) Counts(commentID string) Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[commentID]
}

func (c *Controller) HasVoted(commentID string, kind models.VoteKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voted[kind][commentID]
}

func (c *Controller) InFlight(commentID string, kind models.VoteKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[inFlightKey(commentID, kind)]
}

func (c *Controller) setVoted(kind models.VoteKind, commentID string, on bool) {
	if on {
		c.voted[kind][commentID] = true
	} else {
		delete(c.voted[kind], commentID)
	}
}

// persist 写入当前投票集合，失败只记录日志
func (c *Controller) persist() {
	stored := votedComments{
		Likes:   sortedKeys(c.voted[models.VoteLike]),
		Upvotes: sortedKeys(c.voted[models.VoteUpvote]),
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		logrus.WithError(err).Warn("encode votes")
		return
	}
	if err := c.storage.Set(c.votesKey(), string(raw)); err != nil {
		logrus.WithError(err).WithField("post_id", c.postID).Warn("persist votes")
	}
}

func inFlightKey(commentID string, kind models.VoteKind) string {
	return commentID + "_" + string(kind)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
