package incoming

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gregolima/zeca/pkg/models"
)

// Stage is one consumer of an incoming message. Stages contain their own
// errors; Process never reports failure upward.
type Stage interface {
	Process(ctx context.Context, msg *models.IncomingMessage)
}

// Dispatcher fans one incoming message out to every stage in order. A
// failing or panicking stage never stops the later ones.
type Dispatcher struct {
	stages []namedStage
	logger *slog.Logger
}

type namedStage struct {
	name  string
	stage Stage
}

// New creates a new incoming dispatcher with no stages attached.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.WithGroup("incoming.dispatcher"),
	}
}

// AddStage appends a stage; stages run in registration order.
func (d *Dispatcher) AddStage(name string, stage Stage) {
	d.stages = append(d.stages, namedStage{name: name, stage: stage})
}

// Handler adapts the dispatcher to a queue subscription. It always returns
// nil: a message that cannot even be decoded is logged and dropped rather
// than redelivered forever.
func (d *Dispatcher) Handler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()

		incoming, err := models.UnmarshalIncomingMessage(msg.Payload)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to unmarshal incoming message", slog.Any("error", err),
				slog.String("queue_message_id", msg.UUID),
			)
			return nil
		}

		for _, s := range d.stages {
			d.runStage(ctx, s, &incoming)
		}

		return nil
	}
}

// runStage isolates one stage invocation behind a recover so a panic in one
// stage cannot starve the others.
func (d *Dispatcher) runStage(ctx context.Context, s namedStage, msg *models.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Incoming stage panicked", slog.Any("panic", r),
				slog.String("stage", s.name),
				slog.String("message_id", msg.ID),
			)
		}
	}()

	s.stage.Process(ctx, msg)
}
