package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailerSend(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "mail.local", From: "helpdesk@local", RatePerSecond: 100})
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	var (
		gotAddr string
		gotTo   []string
		gotBody string
	)
	m.send = func(addr string, _ smtp.Auth, from string, to []string, body []byte) error {
		gotAddr, gotTo, gotBody = addr, to, string(body)
		return nil
	}

	id, err := m.Send(context.Background(), Message{To: "c@x.com", Subject: "Resolved", Text: "plain", HTML: "<p>html</p>"})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:587", gotAddr)
	assert.Equal(t, []string{"c@x.com"}, gotTo)
	assert.True(t, strings.HasSuffix(id, "@mail.local>"))
	assert.Contains(t, gotBody, "Message-ID: "+id)
	assert.Contains(t, gotBody, "multipart/alternative")
	assert.Contains(t, gotBody, "plain")
	assert.Contains(t, gotBody, "<p>html</p>")
}

func TestSMTPMailerErrors(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{From: "a@b.c"})
	assert.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Host: "h"})
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "h", From: "a@b.c"})
	require.NoError(t, err)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }
	_, err = m.Send(context.Background(), Message{To: "c@x.com"})
	assert.ErrorContains(t, err, "421 try later")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Send(ctx, Message{To: "c@x.com"})
	assert.Error(t, err)
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestQueueMailerSend(t *testing.T) {
	pub := &fakePublisher{}
	q := NewQueueMailer(pub, "helpdesk.mail", "")

	id, err := q.Send(context.Background(), Message{TicketID: "T1", To: "c@x.com", Subject: "s"})
	require.NoError(t, err)

	assert.Equal(t, "helpdesk.mail", pub.exchange)
	assert.Equal(t, "ticket.resolved", pub.key)
	assert.Equal(t, id, pub.msg.MessageId)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)
	assert.Equal(t, "T1", pub.msg.Headers["ticket_id"])
	assert.JSONEq(t, `{"ticket_id":"T1","to":"c@x.com","subject":"s","text":"","html":""}`, string(pub.msg.Body))

	pub.err = errors.New("channel closed")
	_, err = q.Send(context.Background(), Message{TicketID: "T1"})
	assert.ErrorContains(t, err, "channel closed")
}

func TestDialQueueMailerValidates(t *testing.T) {
	_, _, err := DialQueueMailer(QueueConfig{})
	assert.Error(t, err)
}
