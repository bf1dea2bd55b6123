package feed

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	subscriberBuffer = 16
	// 全量订阅者要处理所有文档的事件，缓冲更大
	watcherBuffer = 256
)

// AllDocuments subscribes to the events of every document.
const AllDocuments = "*"

type subscriber struct {
	ch chan Event
}

// Hub 进程内的变更分发器，每个评论 ID 对应一组订阅者
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish 将事件非阻塞地发送给该文档的订阅者和全量订阅者
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[ev.DocumentID] {
		deliverLatest(s.ch, ev)
	}
	for s := range h.subs[AllDocuments] {
		deliverLatest(s.ch, ev)
	}
	return nil
}

// deliverLatest sends ev without blocking. When the buffer is full the oldest queued
// event is discarded, so the newest state always reaches the subscriber.
func deliverLatest(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
		logrus.WithField("document_id", ev.DocumentID).Debug("feed subscriber slow, oldest event dropped")
	default:
		logrus.WithField("document_id", ev.DocumentID).Warn("feed subscriber buffer full, event dropped")
	}
}

// Subscribe registers a listener for documentID, or for every document with AllDocuments.
// The channel is closed after Close.
func (h *Hub) Subscribe(_ context.Context, documentID string) (*Subscription, error) {
	size := subscriberBuffer
	if documentID == AllDocuments {
		size = watcherBuffer
	}
	s := &subscriber{ch: make(chan Event, size)}

	h.mu.Lock()
	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[*subscriber]struct{})
	}
	h.subs[documentID][s] = struct{}{}
	h.mu.Unlock()

	return newSubscription(s.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[documentID], s)
		if len(h.subs[documentID]) == 0 {
			delete(h.subs, documentID)
		}
		close(s.ch)
	}), nil
}

// Subscribers 返回当前订阅该文档的连接数
func (h *Hub) Subscribers(documentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[documentID])
}
