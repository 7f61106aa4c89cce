// Package ticket holds the support ticket model and the status transition
// that triggers resolution notifications.
package ticket

import (
	"errors"
	"strings"
	"time"
)

// Status enumerates lifecycle states for tickets.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPending    Status = "PENDING"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
)

var (
	ErrNotFound      = errors.New("ticket: not found")
	ErrInvalidStatus = errors.New("ticket: invalid status")
	ErrInvalidInput  = errors.New("ticket: invalid input")
)

// ParseStatus normalizes raw into a known Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusOpen, StatusInProgress, StatusPending, StatusResolved, StatusClosed:
		return s, nil
	}
	return "", ErrInvalidStatus
}

// Ticket is a support request owned by a user, optionally on behalf of a client.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	ClientID    string    `json:"client_id,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Client is the external customer a ticket was raised for.
type Client struct {
	ID    string
	Name  string
	Email string
}

// Owner is the user account that owns a ticket.
type Owner struct {
	ID    string
	Email string
}

// Detail is a ticket joined with its optional client and required owner.
type Detail struct {
	Ticket Ticket
	Client *Client
	Owner  Owner
}
