package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shiptrack/api/internal/platform/textutil"
	"github.com/shiptrack/api/internal/services"
)

// intentEnvelope is the wire form of a notification intent on the topic.
type intentEnvelope struct {
	Kind           string            `json:"kind"`
	OrderID        string            `json:"orderId"`
	Contact        string            `json:"contact,omitempty"`
	TemplateParams map[string]string `json:"templateParams,omitempty"`
	PublishedAt    time.Time         `json:"publishedAt"`
}

// PubSubIntentPublisher publishes notification intents to a Pub/Sub topic for
// the downstream dispatcher to render and deliver.
type PubSubIntentPublisher struct {
	topic   *pubsub.Topic
	clock   func() time.Time
	marshal func(any) ([]byte, error)
}

// NewPubSubIntentPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubIntentPublisher(topic *pubsub.Topic) (*PubSubIntentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub intent publisher: topic is required")
	}
	return &PubSubIntentPublisher{
		topic:   topic,
		clock:   time.Now,
		marshal: json.Marshal,
	}, nil
}

var _ services.NotificationPublisher = (*PubSubIntentPublisher)(nil)

// PublishIntent enqueues a notification intent message on the configured topic.
func (p *PubSubIntentPublisher) PublishIntent(ctx context.Context, intent services.NotificationIntent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub intent publisher: not initialised")
	}
	if strings.TrimSpace(intent.Kind) == "" {
		return errors.New("pubsub intent publisher: intent kind is required")
	}

	data, err := p.marshal(intentEnvelope{
		Kind:           intent.Kind,
		OrderID:        intent.OrderID,
		Contact:        intent.CustomerContact,
		TemplateParams: textutil.NormalizeStringMap(intent.TemplateParams),
		PublishedAt:    p.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification intent: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", intent.Kind)
	setAttr(attrs, "orderId", intent.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification intent: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
