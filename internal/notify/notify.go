// Package notify delivers ticket resolution emails off the request path.
package notify

import (
	"context"
	"errors"
	"strings"

	"helpdesk.org/internal/ticket"
)

var (
	// ErrNoRecipient means neither the client nor the owner has an email address.
	ErrNoRecipient = errors.New("notify: no recipient email")
)

// Message is a rendered notification ready for delivery.
type Message struct {
	TicketID string `json:"ticket_id"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// Mailer hands a message to a delivery channel and returns its message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// TicketLookup returns a ticket with its optional client and owning user,
// or ticket.ErrNotFound.
type TicketLookup interface {
	Detail(ctx context.Context, ticketID string) (*ticket.Detail, error)
}

// Recipient picks the client's email, falling back to the owner's.
func Recipient(d *ticket.Detail) (string, error) {
	if d == nil {
		return "", ErrNoRecipient
	}
	if d.Client != nil {
		if email := strings.TrimSpace(d.Client.Email); email != "" {
			return email, nil
		}
	}
	if email := strings.TrimSpace(d.Owner.Email); email != "" {
		return email, nil
	}
	return "", ErrNoRecipient
}
