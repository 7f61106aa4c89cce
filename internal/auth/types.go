package auth

import "time"

// Roles understood by the access layer.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
	RoleUser  = "user"
)

// User is an account able to sign in.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential is the persisted password representation of a user.
type Credential struct {
	UserID       string
	PasswordHash string
}

// Credential returns the stored credential of u.
func (u *User) Credential() Credential {
	return Credential{UserID: u.ID, PasswordHash: u.PasswordHash}
}
