package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/logger"
)

// CommitSummary is the payload published for every committed batch.
//
// Field names are part of the topic contract consumed by practice
// automation, so they must not change.
type CommitSummary struct {
	FlowID    string    `json:"flowId"`
	AssetIDs  []string  `json:"assetIds"`
	Count     int       `json:"count"`
	Tags      string    `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier forwards PhotosCommitted events from the bus to the broker.
// It implements events.EventConsumer.
type Notifier struct {
	client Client
	config Config
	log    logger.Logger
}

// NewNotifier returns a notifier publishing on cfg.Topic through c.
func NewNotifier(c Client, cfg Config) *Notifier {
	return &Notifier{
		client: c,
		config: cfg,
		log:    log.With(logger.String("topic", cfg.Topic)),
	}
}

// Name implements events.EventConsumer.
func (n *Notifier) Name() string { return "mqtt-notifier" }

// Topics implements events.EventConsumer.
func (n *Notifier) Topics() []string { return []string{events.TopicPhotosCommitted} }

// ProcessEvent publishes a commit summary. The client reconnects lazily
// when the broker was unavailable at startup.
func (n *Notifier) ProcessEvent(event events.Event) error {
	committed, ok := event.(events.PhotosCommitted)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(Summarize(committed))
	if err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryValidation).
			Context("operation", "encode_summary").
			Build()
	}

	if !n.client.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), n.config.ConnectTimeout)
		err := n.client.Connect(ctx)
		cancel()
		if err != nil {
			n.log.Warn("broker unavailable, commit summary dropped",
				logger.String("flow_id", committed.FlowID),
				logger.Error(err))
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.PublishTimeout)
	defer cancel()
	if err := n.client.Publish(ctx, n.config.Topic, string(payload)); err != nil {
		return err
	}

	n.log.Info("commit summary published",
		logger.String("flow_id", committed.FlowID),
		logger.Int("count", len(committed.AssetIDs)))
	return nil
}

// Summarize converts a PhotosCommitted event into its wire payload.
func Summarize(e events.PhotosCommitted) CommitSummary {
	ids := e.AssetIDs
	if ids == nil {
		ids = []string{}
	}
	return CommitSummary{
		FlowID:    e.FlowID,
		AssetIDs:  ids,
		Count:     len(ids),
		Tags:      e.TagSummary,
		Timestamp: e.Timestamp.UTC(),
	}
}
