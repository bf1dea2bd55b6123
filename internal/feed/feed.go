// Package feed delivers comment change events from the store to live listeners.
package feed

import (
	"context"
	"sync"

	"folio/internal/models"
)

// Transition 文档变更类型
type Transition string

const (
	TransitionAppear    Transition = "appear"
	TransitionUpdate    Transition = "update"
	TransitionDisappear Transition = "disappear"
)

// Event is one change of one comment document. Result is the document after the change
// (nil for disappear).
type Event struct {
	Transition Transition      `json:"transition"`
	DocumentID string          `json:"documentId"`
	Result     *models.Comment `json:"result,omitempty"`
}

// Publisher is the write side used by stores after a successful commit.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed is a per-document change subscription source.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, documentID string) (*Subscription, error)
}

// Subscription receives events for a single document until Close is called.
type Subscription struct {
	C <-chan Event

	once    sync.Once
	release func()
}

func newSubscription(c <-chan Event, release func()) *Subscription {
	return &Subscription{C: c, release: release}
}

// Close releases the upstream subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Nop discards every event. Used when a store runs without listeners.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
