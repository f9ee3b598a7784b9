package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"registrar/internal/logging"
)

// Handlers receive decoded events. Nil handlers are skipped.
type Handlers struct {
	JobStatus    func(ctx context.Context, event JobStatusEvent)
	ServiceState func(ctx context.Context, event ServiceStateEvent)
}

// Listener consumes both registry topics and hands decoded events to its
// handlers. It runs until its context ends.
type Listener struct {
	bus      *Bus
	logger   *slog.Logger
	handlers Handlers
}

// NewListener builds a listener on bus.
func NewListener(bus *Bus, logger *slog.Logger, handlers Handlers) *Listener {
	return &Listener{
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "event-listener"),
		handlers: handlers,
	}
}

// Serve subscribes and dispatches events until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	jobs, err := l.bus.Subscribe(ctx, TopicJobStatus)
	if err != nil {
		return err
	}
	states, err := l.bus.Subscribe(ctx, TopicServiceState)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-jobs:
			if !ok {
				return nil
			}
			l.handleJob(ctx, msg)
		case msg, ok := <-states:
			if !ok {
				return nil
			}
			l.handleState(ctx, msg)
		}
	}
}

func (l *Listener) String() string {
	return "event-listener"
}

func (l *Listener) handleJob(ctx context.Context, msg *message.Message) {
	defer msg.Ack()
	var event JobStatusEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		l.logger.Warn("dropping malformed job event", logging.String("message_uuid", msg.UUID), logging.Error(err))
		return
	}
	l.logger.Debug("job transition",
		logging.Int64(logging.FieldJobID, event.JobID),
		logging.String(logging.FieldServiceType, event.JobType),
		logging.String(logging.FieldOperation, event.Operation),
		logging.String("previous_status", string(event.Previous)),
		logging.String("status", string(event.Status)),
		logging.String(logging.FieldHost, event.ProcessingHost),
	)
	if l.handlers.JobStatus != nil {
		l.handlers.JobStatus(ctx, event)
	}
}

func (l *Listener) handleState(ctx context.Context, msg *message.Message) {
	defer msg.Ack()
	var event ServiceStateEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		l.logger.Warn("dropping malformed service event", logging.String("message_uuid", msg.UUID), logging.Error(err))
		return
	}
	l.logger.Info(fmt.Sprintf("service %s", event.State),
		logging.String(logging.FieldServiceType, event.ServiceType),
		logging.String(logging.FieldHost, event.Host),
		logging.String("previous_state", string(event.Previous)),
		logging.String(logging.FieldEventType, "service_state_changed"),
	)
	if l.handlers.ServiceState != nil {
		l.handlers.ServiceState(ctx, event)
	}
}
