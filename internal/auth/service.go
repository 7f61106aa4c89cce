package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
)

// Session is a freshly issued bearer token with its decoded claims.
type Session struct {
	Token     string
	Claims    *Claims
	ExpiresAt time.Time
}

// Service ties user storage to credential hashing and token issuance.
type Service struct {
	users  UserStore
	hasher *PasswordHasher
	tokens *TokenService

	// dummyDigest is compared against when the user does not exist so that
	// unknown and known accounts take comparable time to reject.
	dummyOnce   sync.Once
	dummyDigest string
}

// NewService constructs Service.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenService) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens}
}

// Tokens exposes the token service used for bearer verification.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Register creates a user with a hashed password and signs them in.
func (s *Service) Register(ctx context.Context, email, password, role string) (*User, Session, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, Session{}, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		role = RoleUser
	case RoleUser, RoleAgent, RoleAdmin:
	default:
		return nil, Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, Session{}, err
	}
	u := &User{Email: email, PasswordHash: digest, Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, Session{}, err
	}
	sess, err := s.issue(u)
	if err != nil {
		return nil, Session{}, err
	}
	return u, sess, nil
}

// Login verifies credentials and issues a session. Unknown users and wrong
// passwords both return ErrBadCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*User, Session, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(password, s.dummy())
			return nil, Session{}, ErrBadCredentials
		}
		return nil, Session{}, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, Session{}, ErrBadCredentials
	}
	sess, err := s.issue(u)
	if err != nil {
		return nil, Session{}, err
	}
	return u, sess, nil
}

// Authenticate verifies a bearer token. Failures return ErrInvalidToken.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

func (s *Service) issue(u *User) (Session, error) {
	token, claims, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Claims: claims, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.hasher.Hash("helpdesk-timing-equalizer")
	})
	return s.dummyDigest
}

func validateEmail(raw string) (string, error) {
	raw = normalizeEmail(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return raw, nil
}
