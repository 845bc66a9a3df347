package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// OutboxMessage is a mirror change event waiting to be published.
type OutboxMessage struct {
	ID      int64  `db:"id"`
	Subject string `db:"subject"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
	Retries int    `db:"retries"`
}

// Outbox is the durable queue reconcilers write change events to.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Publisher delivers one event. msgID is used for broker-side dedup.
type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Dispatcher drains the outbox to a Publisher.
type Dispatcher struct {
	Outbox    Outbox
	Publisher Publisher
	BatchSize int
	// Interval is the idle wait between empty polls.
	Interval   time.Duration
	RetryAfter time.Duration
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("error dequeuing outbox")
		}

		wait := time.Duration(0)
		if err != nil {
			wait = time.Second
		} else if n == 0 {
			wait = interval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch and returns how many messages were
// published.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}
	retry := d.RetryAfter
	if retry <= 0 {
		retry = 10 * time.Second
	}

	messages, err := d.Outbox.DequeueOutbox(ctx, batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := d.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
			log.Warn().Err(err).Int64("outbox_id", msg.ID).Int("retries", msg.Retries).Msg("publish failed, will retry")
			if err := d.Outbox.MarkOutboxRetry(ctx, msg.ID, retry*time.Duration(msg.Retries+1)); err != nil {
				log.Error().Err(err).Int64("outbox_id", msg.ID).Msg("could not schedule outbox retry")
			}
			continue
		}
		if err := d.Outbox.MarkPublished(ctx, msg.ID); err != nil {
			log.Error().Err(err).Int64("outbox_id", msg.ID).Msg("could not mark outbox message published")
			continue
		}
		published++
	}
	return published, nil
}
