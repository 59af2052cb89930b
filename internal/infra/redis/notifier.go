package redis

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

// DefaultCompletionChannel is where QuizCompleted events are published when no channel is configured.
const DefaultCompletionChannel = "quiz.completed"

// Notifier publishes QuizCompleted events for completion tracking consumers.
type Notifier struct {
	client  *redis.Client
	channel string
}

func NewNotifier(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultCompletionChannel
	}
	return &Notifier{client: client, channel: channel}
}

func (n *Notifier) Notify(ctx context.Context, event domain.QuizCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode quiz completed")
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish quiz completed for attempt %s", event.AttemptID)
	}
	return nil
}
