package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 频道名：folio:comment:{id}
const channelKeyTemplate = "folio:comment:%s"

// RedisFeed fans change events out through redis pub/sub so every server instance
// sees writes made by the others.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func channelKey(documentID string) string {
	return fmt.Sprintf(channelKeyTemplate, documentID)
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal feed event")
	}
	if err := f.client.Publish(ctx, channelKey(ev.DocumentID), data).Err(); err != nil {
		return errors.Wrap(err, "publish feed event")
	}
	return nil
}

// Subscribe listens on one document channel, or on all of them (pattern subscription)
// when documentID is AllDocuments.
func (f *RedisFeed) Subscribe(ctx context.Context, documentID string) (*Subscription, error) {
	var pubsub *redis.PubSub
	size := subscriberBuffer
	if documentID == AllDocuments {
		pubsub = f.client.PSubscribe(ctx, channelKey("*"))
		size = watcherBuffer
	} else {
		pubsub = f.client.Subscribe(ctx, channelKey(documentID))
	}
	// 等待订阅确认，确保之后发布的消息不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "subscribe feed channel")
	}

	out := make(chan Event, size)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logrus.WithError(err).WithField("channel", msg.Channel).Warn("drop malformed feed event")
					continue
				}
				deliverLatest(out, ev)
			}
		}
	}()

	return newSubscription(out, func() {
		close(done)
		if err := pubsub.Close(); err != nil {
			logrus.WithError(err).WithField("document_id", documentID).Warn("close redis subscription")
		}
	}), nil
}
