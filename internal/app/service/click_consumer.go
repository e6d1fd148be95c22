package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/errx"
)

// ClickRecorder increments the click counter of a link.
type ClickRecorder interface {
	RecordClick(ctx context.Context, code string) error
}

type ackDecision uint8

const (
	ack ackDecision = iota
	nak
	term
)

// ClickConsumer consumes click events from NATS JetStream and applies them
// to the link's click counter.
type ClickConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   ClickRecorder

	batch   int
	maxWait time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClickConsumer creates a new click event consumer
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger, repo ClickRecorder) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger, repo: repo, batch: 10, maxWait: 5 * time.Second}
}

// Start creates the stream and durable consumer if needed and begins
// consuming in the background until ctx is done or Stop is called.
func (c *ClickConsumer) Start(ctx context.Context) error {
	err := ensureStream(c.js, &nats.StreamConfig{
		Name:     model.ClickStreamName,
		Subjects: []string{model.ClickStreamSubject},
		MaxBytes: model.ClickStreamMaxBytes,
	})
	if err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:   model.ClickConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consume(ctx, sub)
	return nil
}

// Stop ends consumption and waits for the in-flight batch.
func (c *ClickConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer c.wg.Done()
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe click consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("click consumer stopped")
			return
		}

		msgs, err := sub.Fetch(c.batch, nats.MaxWait(c.maxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("click consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var settle error
			switch c.process(ctx, msg.Data) {
			case ack:
				settle = msg.Ack()
			case nak:
				settle = msg.Nak()
			case term:
				settle = msg.Term()
			}
			if settle != nil {
				c.logger.Warn("failed to settle click message", zap.Error(settle))
			}
		}
	}
}

// process applies one click message. Malformed payloads are terminated,
// clicks for links that no longer exist are dropped and backend failures are
// redelivered.
func (c *ClickConsumer) process(ctx context.Context, data []byte) ackDecision {
	var event model.ClickEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Code == "" {
		c.logger.Error("failed to unmarshal click event", zap.ByteString("data", data), zap.Error(err))
		return term
	}

	if err := c.repo.RecordClick(ctx, event.Code); err != nil {
		if errx.KindOf(err) == errx.NotFound {
			c.logger.Debug("click for unknown link dropped", zap.String("code", event.Code))
			return ack
		}
		c.logger.Error("failed to record click",
			zap.String("id", event.ID),
			zap.String("code", event.Code),
			zap.Error(err))
		return nak
	}

	c.logger.Debug("click recorded",
		zap.String("id", event.ID),
		zap.String("code", event.Code),
		zap.String("ip", event.IP),
		zap.Time("timestamp", event.Timestamp),
	)
	return ack
}
