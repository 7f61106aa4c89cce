package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"helpdesk.org/internal/auth"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

func newSessionResponse(u *auth.User, s auth.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      userResponse{ID: u.ID, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt},
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := auth.RoleUser
	if _, ok := a.adminEmails[strings.ToLower(strings.TrimSpace(req.Email))]; ok {
		role = auth.RoleAdmin
	}
	u, sess, err := a.auth.Register(r.Context(), req.Email, req.Password, role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "email already registered")
		default:
			a.log.Error("register failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	ctx := auth.ContextWithClaims(r.Context(), sess.Claims)
	a.audit.Event(ctx, "auth.register", zap.String("role", u.Role))
	a.audit.Event(ctx, "auth.token.issued", zap.String("jti", sess.Claims.ID), zap.Time("expires_at", sess.ExpiresAt))
	writeJSON(w, http.StatusCreated, newSessionResponse(u, sess))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, sess, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			a.audit.Event(r.Context(), "auth.login.failed", zap.String("remote_ip", a.clientKey(r)))
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
			return
		}
		a.log.Error("login failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	ctx := auth.ContextWithClaims(r.Context(), sess.Claims)
	a.audit.Event(ctx, "auth.login.succeeded")
	a.audit.Event(ctx, "auth.token.issued", zap.String("jti", sess.Claims.ID), zap.Time("expires_at", sess.ExpiresAt))
	writeJSON(w, http.StatusOK, newSessionResponse(u, sess))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    claims.UserID,
		"email":      claims.Email,
		"roles":      claims.Roles,
		"expires_at": claims.ExpiresAt.Time,
	})
}
