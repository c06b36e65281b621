package queue

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub"

	"gumroad/internal/domain"
	applog "gumroad/internal/log"
)

// PubSub publishes jobs to a Google Cloud Pub/Sub topic and consumes them from
// a subscription. Delivery is at-least-once.
type PubSub struct {
	Topic        *pubsub.Topic
	Subscription *pubsub.Subscription
}

func NewPubSub(topic *pubsub.Topic, sub *pubsub.Subscription, maxOutstanding int) *PubSub {
	if sub != nil && maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &PubSub{Topic: topic, Subscription: sub}
}

// Enqueue waits for the server to assign a message id.
func (q *PubSub) Enqueue(ctx context.Context, job domain.DuplicationJob) error {
	if q.Topic == nil {
		return errors.New("pubsub topic not configured")
	}
	data, err := Encode(NewMessage(job))
	if err != nil {
		return err
	}
	result := q.Topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": job.ID},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return err
	}
	applog.Background("queue.pubsub.published", map[string]any{"job_id": job.ID, "message_id": id})
	return nil
}

// Run receives until ctx is done. Malformed messages are acked and dropped;
// handler errors nack for redelivery.
func (q *PubSub) Run(ctx context.Context, h Handler) error {
	if q.Subscription == nil {
		return errors.New("pubsub subscription not configured")
	}
	return q.Subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		m, err := Decode(msg.Data)
		if err != nil {
			applog.BackgroundError("queue.pubsub.decode", err, map[string]any{"message_id": msg.ID})
			msg.Ack()
			return
		}
		if err := h(ctx, m.JobID); err != nil {
			applog.BackgroundError("queue.pubsub.job.error", err, map[string]any{
				"job_id":     m.JobID,
				"product_id": m.ProductID,
				"message_id": msg.ID,
			})
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Stop flushes pending publishes.
func (q *PubSub) Stop() {
	if q.Topic != nil {
		q.Topic.Stop()
	}
}
