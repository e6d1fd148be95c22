package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sifan077/shortlinkd/internal/app/model"
)

// JetStream is the subset of nats.JetStreamContext the publishers and the
// consumer use.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// ClickPublisher publishes click events to NATS JetStream.
type ClickPublisher struct {
	js JetStream
}

// NewClickPublisher creates a click publisher and makes sure the click stream
// exists.
func NewClickPublisher(js JetStream) (*ClickPublisher, error) {
	err := ensureStream(js, &nats.StreamConfig{
		Name:     model.ClickStreamName,
		Subjects: []string{model.ClickStreamSubject},
		MaxBytes: model.ClickStreamMaxBytes,
	})
	if err != nil {
		return nil, err
	}
	return &ClickPublisher{js: js}, nil
}

// PublishClick publishes event to the click stream.
func (p *ClickPublisher) PublishClick(ctx context.Context, event model.ClickEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode click event: %w", err)
	}
	if _, err := p.js.Publish(model.ClickStreamSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish click event: %w", err)
	}
	return nil
}

func ensureStream(js JetStream, cfg *nats.StreamConfig) error {
	if _, err := js.StreamInfo(cfg.Name); err == nil {
		return nil
	}
	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return nil
}
