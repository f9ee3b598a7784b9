package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

const (
	// TopicJobStatus carries JobStatusEvent payloads.
	TopicJobStatus = "registrar.job.status"
	// TopicServiceState carries ServiceStateEvent payloads.
	TopicServiceState = "registrar.service.state"

	outputBuffer = 256
)

// JobStatusEvent records a job moving between statuses.
type JobStatusEvent struct {
	JobID          int64           `json:"job_id"`
	JobType        string          `json:"job_type"`
	Operation      string          `json:"operation"`
	Previous       registry.Status `json:"previous_status"`
	Status         registry.Status `json:"status"`
	ProcessingHost string          `json:"processing_host,omitempty"`
	At             time.Time       `json:"at"`
}

// ServiceStateEvent records a registration moving between failover states.
type ServiceStateEvent struct {
	ServiceType string                `json:"service_type"`
	Host        string                `json:"host"`
	Previous    registry.ServiceState `json:"previous_state"`
	State       registry.ServiceState `json:"state"`
	At          time.Time             `json:"at"`
}

// Bus is an in-process publish/subscribe channel for registry transitions.
// Publishing never blocks the caller; events published while nobody is
// subscribed are dropped.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
	now    func() time.Time
}

// NewBus constructs an event bus that logs through logger.
func NewBus(logger *slog.Logger) *Bus {
	logger = logging.NewComponentLogger(logger, "events")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: outputBuffer,
		}, watermill.NewSlogLogger(logger)),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// JobStatusChanged publishes a JobStatusEvent.
func (b *Bus) JobStatusChanged(ctx context.Context, job *registry.Job, previous registry.Status) {
	if job == nil {
		return
	}
	b.publish(ctx, TopicJobStatus, JobStatusEvent{
		JobID:          job.ID,
		JobType:        job.JobType,
		Operation:      job.Operation,
		Previous:       previous,
		Status:         job.Status,
		ProcessingHost: job.ProcessingHost,
		At:             b.now(),
	})
}

// ServiceStateChanged publishes a ServiceStateEvent.
func (b *Bus) ServiceStateChanged(ctx context.Context, svc *registry.Service, previous registry.ServiceState) {
	if svc == nil {
		return
	}
	b.publish(ctx, TopicServiceState, ServiceStateEvent{
		ServiceType: svc.ServiceType,
		Host:        svc.Host,
		Previous:    previous,
		State:       svc.State,
		At:          b.now(),
	})
}

func (b *Bus) publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.WarnWithContext(b.logger, "failed to encode event", "event_encode_failed",
			logging.String("topic", topic),
			logging.Error(err),
		)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.WarnWithContext(b.logger, "failed to publish event", "event_publish_failed",
			logging.String("topic", topic),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event consumers miss this transition"),
		)
	}
}

// Subscribe returns the messages published on topic until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return messages, nil
}

// Close stops delivery to every subscriber.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
