package notify

import (
	"context"

	"go.uber.org/zap"

	"helpdesk.org/internal/ids"
)

// LogMailer writes messages to the log instead of sending them. Used in dev.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) (string, error) {
	messageID := ids.New()
	m.log.Info("mail",
		zap.String("message_id", messageID),
		zap.String("ticket_id", msg.TicketID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return messageID, nil
}
