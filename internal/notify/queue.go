package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"helpdesk.org/internal/ids"
)

// Publisher is the subset of *amqp.Channel used by QueueMailer.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueConfig configures the AMQP mail queue.
type QueueConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// QueueMailer publishes rendered messages to an exchange for a separate
// sender to deliver.
type QueueMailer struct {
	pub        Publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewQueueMailer wraps an existing channel.
func NewQueueMailer(pub Publisher, exchange, routingKey string) *QueueMailer {
	if routingKey == "" {
		routingKey = "ticket.resolved"
	}
	return &QueueMailer{pub: pub, exchange: exchange, routingKey: routingKey, now: time.Now}
}

// DialQueueMailer connects to the broker, declares a durable topic exchange
// and returns the mailer with a close function for the connection.
func DialQueueMailer(cfg QueueConfig) (*QueueMailer, func() error, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, nil, errors.New("amqp: url and exchange are required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp: declare exchange: %w", err)
	}
	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return NewQueueMailer(ch, cfg.Exchange, cfg.RoutingKey), closeFn, nil
}

// Send publishes msg as a persistent JSON message.
func (q *QueueMailer) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("amqp: encode: %w", err)
	}
	messageID := ids.New()
	err = q.pub.PublishWithContext(ctx, q.exchange, q.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    q.now().UTC(),
		Type:         "ticket.resolved",
		Headers:      amqp.Table{"ticket_id": msg.TicketID},
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("amqp: publish: %w", err)
	}
	return messageID, nil
}
