package ticket

import (
	"context"
	"database/sql"
	"errors"

	"helpdesk.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	return s.db.QueryRowContext(ctx,
		`insert into tickets(id, title, description, status, client_id, owner_id) values($1,$2,$3,$4,$5,$6) returning created_at, updated_at`,
		t.ID, t.Title, t.Description, string(t.Status), nullable(t.ClientID), t.OwnerID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (s *PGStore) Get(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, title, description, status, client_id, owner_id, created_at, updated_at from tickets where id=$1`, id)
	var (
		t        Ticket
		status   string
		clientID sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &clientID, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = Status(status)
	t.ClientID = clientID.String
	return &t, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) (Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	if err := tx.QueryRowContext(ctx, `select status from tickets where id=$1 for update`, id).Scan(&prev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`update tickets set status=$1, updated_at=now() where id=$2`, string(status), id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return Status(prev), nil
}

func (s *PGStore) Detail(ctx context.Context, id string) (*Detail, error) {
	row := s.db.QueryRowContext(ctx, `
		select t.id, t.title, t.description, t.status, t.owner_id, t.created_at, t.updated_at,
		       u.email, c.id, c.name, c.email
		from tickets t
		join users u on u.id = t.owner_id
		left join clients c on c.id = t.client_id
		where t.id=$1`, id)
	var (
		d                                Detail
		status                           string
		clientID, clientName, clientMail sql.NullString
	)
	err := row.Scan(&d.Ticket.ID, &d.Ticket.Title, &d.Ticket.Description, &status, &d.Ticket.OwnerID,
		&d.Ticket.CreatedAt, &d.Ticket.UpdatedAt, &d.Owner.Email, &clientID, &clientName, &clientMail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Ticket.Status = Status(status)
	d.Owner.ID = d.Ticket.OwnerID
	if clientID.Valid {
		d.Ticket.ClientID = clientID.String
		d.Client = &Client{ID: clientID.String, Name: clientName.String, Email: clientMail.String}
	}
	return &d, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
