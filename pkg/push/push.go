package push

import (
	"context"

	"go.uber.org/zap"
)

// Push results recorded in metrics.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Notification is one push addressed to a device token.
type Notification struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Gateway delivers a notification to the push provider or to a queue in front of it.
type Gateway interface {
	Send(ctx context.Context, n Notification) error
}

// LogGateway only logs notifications. Used in development.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log.Named("push")}
}

func (g *LogGateway) Send(_ context.Context, n Notification) error {
	g.log.Info("push notification",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Any("data", n.Data))
	return nil
}
