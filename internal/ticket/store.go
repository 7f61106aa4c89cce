package ticket

import "context"

// Store persists tickets.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	// UpdateStatus stores status and returns the status it replaced.
	UpdateStatus(ctx context.Context, id string, status Status) (Status, error)
	// Detail loads the ticket with its client and owner. Missing tickets return ErrNotFound.
	Detail(ctx context.Context, id string) (*Detail, error)
}
