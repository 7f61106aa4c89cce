package ticket

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ResolutionNotifier reacts to a ticket reaching StatusResolved. Both
// methods return immediately; delivery happens in the background.
type ResolutionNotifier interface {
	OnTicketResolved(ticketID string)
	ScheduleTicketResolved(ticketID string)
}

// Service implements the ticket operations exposed over HTTP.
type Service struct {
	store    Store
	notifier ResolutionNotifier
	deferred bool
	log      *zap.Logger
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithDeferredNotifications delays resolution notifications instead of sending them right away.
func WithDeferredNotifications(deferred bool) ServiceOption {
	return func(s *Service) { s.deferred = deferred }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs Service. notifier may be nil to disable notifications.
func NewService(store Store, notifier ResolutionNotifier, opts ...ServiceOption) *Service {
	s := &Service{store: store, notifier: notifier, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new ticket owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, title, description, clientID string) (*Ticket, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	t := &Ticket{
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      StatusOpen,
		ClientID:    strings.TrimSpace(clientID),
		OwnerID:     ownerID,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return t, nil
}

// Get returns a ticket by id.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

// ChangeStatus persists a new status and returns the previous one. A
// transition into StatusResolved triggers exactly one notification, after
// the change is stored; the caller does not wait for it.
func (s *Service) ChangeStatus(ctx context.Context, id string, status Status) (Status, error) {
	prev, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return "", err
	}
	if status == StatusResolved && prev != StatusResolved && s.notifier != nil {
		if s.deferred {
			s.notifier.ScheduleTicketResolved(id)
		} else {
			s.notifier.OnTicketResolved(id)
		}
		s.log.Debug("resolution notification triggered",
			zap.String("ticket_id", id), zap.Bool("deferred", s.deferred))
	}
	return prev, nil
}
