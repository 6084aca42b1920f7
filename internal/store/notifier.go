package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// JobTypeCalendarUpdated is the job type of change notifications.
const JobTypeCalendarUpdated = "calendar_updated"

// Notifier is told about every accepted revision.
type Notifier interface {
	CalendarChanged(ctx context.Context, id string, revision int64) error
}

// ChangeMessage is the payload published for an accepted revision.
type ChangeMessage struct {
	JobType    string    `json:"job_type"`
	CalendarID string    `json:"calendar_id"`
	Revision   int64     `json:"revision"`
	ChangedAt  time.Time `json:"changed_at"`
}

// PubSubNotifier publishes change messages to a Pub/Sub topic.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	logger    zerolog.Logger
}

// PubSubNotifierConfig holds configuration for the Pub/Sub notifier.
type PubSubNotifierConfig struct {
	ProjectID string
	TopicID   string
	Logger    zerolog.Logger
}

// NewPubSubNotifier creates a notifier publishing to cfg.TopicID.
func NewPubSubNotifier(ctx context.Context, cfg PubSubNotifierConfig) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubNotifier{
		client:    client,
		publisher: client.Publisher(cfg.TopicID),
		logger:    cfg.Logger,
	}, nil
}

// CalendarChanged publishes a calendar_updated message and waits for the server ack.
func (n *PubSubNotifier) CalendarChanged(ctx context.Context, id string, revision int64) error {
	data, err := json.Marshal(ChangeMessage{
		JobType:    JobTypeCalendarUpdated,
		CalendarID: id,
		Revision:   revision,
		ChangedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding change message: %w", err)
	}

	result := n.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"calendar_id": id},
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing change message: %w", err)
	}

	n.logger.Debug().
		Str("calendar_id", id).
		Int64("revision", revision).
		Str("message_id", msgID).
		Msg("published calendar change")
	return nil
}

// Close flushes pending messages and closes the client.
func (n *PubSubNotifier) Close() error {
	n.publisher.Stop()
	return n.client.Close()
}
