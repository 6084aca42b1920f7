package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/store"
)

// JobTypeRouteSweep asks the worker to sweep every calendar.
const JobTypeRouteSweep = "route_sweep"

// ErrMalformedJob is returned for messages that cannot be parsed.
var ErrMalformedJob = errors.New("malformed job message")

// JobMessage is the envelope of every message the worker consumes. Change
// notifications published by the store decode into it.
type JobMessage struct {
	JobType    string `json:"job_type"`
	CalendarID string `json:"calendar_id,omitempty"`
	Revision   int64  `json:"revision,omitempty"`
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	jobs             *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RouteJob         *RouteJob
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		jobs:             NewDispatcher(cfg.RouteJob, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	err := h.jobs.Handle(ctx, msg.Data)
	switch {
	case err == nil:
		msg.Ack()
	case errors.Is(err, ErrMalformedJob):
		// Redelivery cannot fix a bad payload.
		logger.Error().Err(err).Msg("dropping message")
		msg.Ack()
	default:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	}
}

// Dispatcher routes job messages to the route job.
type Dispatcher struct {
	routes *RouteJob
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over job.
func NewDispatcher(job *RouteJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{routes: job, logger: logger}
}

// Handle runs the job described by data. A nil return means the message can be
// acknowledged, which includes unknown job types and calendars deleted since the
// message was published.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) error {
	start := time.Now()

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	var err error
	switch msg.JobType {
	case store.JobTypeCalendarUpdated:
		err = d.handleCalendarUpdated(ctx, msg)
	case JobTypeRouteSweep:
		_, err = d.routes.Sweep(ctx)
	default:
		d.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return nil
	}
	if err != nil {
		return err
	}

	d.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	return nil
}

func (d *Dispatcher) handleCalendarUpdated(ctx context.Context, msg JobMessage) error {
	if msg.CalendarID == "" {
		return fmt.Errorf("%w: missing calendar_id", ErrMalformedJob)
	}

	result, err := d.routes.Run(ctx, msg.CalendarID)
	if isGone(err) {
		d.logger.Debug().Str("calendar_id", msg.CalendarID).Msg("calendar deleted before routing")
		return nil
	}
	if err != nil {
		return err
	}

	// A failed directions request is retried by the next sweep, not by redelivery.
	if result.Failed > 0 && result.Failed == result.Pending {
		d.logger.Warn().
			Str("calendar_id", msg.CalendarID).
			Int("failed", result.Failed).
			Msg("no routes could be computed")
	}
	return nil
}
