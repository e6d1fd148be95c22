package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sifan077/shortlinkd/internal/app/model"
)

// LinkEventPublisher publishes lifecycle events on shortlink.events.<type>.
type LinkEventPublisher struct {
	js JetStream
}

// NewLinkEventPublisher creates the publisher and makes sure the event stream
// exists.
func NewLinkEventPublisher(js JetStream) (*LinkEventPublisher, error) {
	err := ensureStream(js, &nats.StreamConfig{
		Name:     model.LinkEventStreamName,
		Subjects: []string{model.LinkEventSubjectPrefix + ">"},
		MaxBytes: model.LinkEventStreamMaxBytes,
	})
	if err != nil {
		return nil, err
	}
	return &LinkEventPublisher{js: js}, nil
}

func (p *LinkEventPublisher) PublishLinkEvent(ctx context.Context, event model.LinkEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode link event: %w", err)
	}
	if _, err := p.js.Publish(event.Subject(), data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish link event %s: %w", event.Type, err)
	}
	return nil
}

// NopPublisher drops every event. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishLinkEvent(context.Context, model.LinkEvent) error { return nil }

func (NopPublisher) PublishClick(context.Context, model.ClickEvent) error { return nil }
