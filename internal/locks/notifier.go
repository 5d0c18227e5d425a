package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventLocks   EventKind = "locks"
	EventContent EventKind = "content"
)

// Event is a change notification for one document. Delivery is
// at-least-once and unordered; consumers re-read state instead of trusting
// the payload.
type Event struct {
	Kind       EventKind `json:"kind"`
	DocumentID string    `json:"documentId"`
	SectionID  string    `json:"sectionId,omitempty"`
	ActorID    string    `json:"actorId,omitempty"`
	Version    int64     `json:"version,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier publishes and subscribes to per-document change channels.
type Notifier struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

func NewNotifier(client *redis.Client, logger zerolog.Logger) *Notifier {
	return &Notifier{
		client: client,
		prefix: "sgid:doc-events:",
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) channel(documentID string) string {
	return n.prefix + documentID
}

func (n *Notifier) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(event.DocumentID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of events for documentID. The subscription is
// confirmed before returning. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (n *Notifier) Subscribe(ctx context.Context, documentID string) (<-chan Event, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel(documentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", documentID, err)
	}

	out := make(chan Event, 16)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}
