package messaging

import (
	"context"
	"log/slog"
)

// Publisher delivers event payloads to the messaging transport. An error
// means the broker did not acknowledge the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// LoggerPublisher is a stub transport that writes events to the logger.
// Used in development when no broker is configured.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher stub.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event published", "topic", topic, "payload", string(payload))
	return nil
}
