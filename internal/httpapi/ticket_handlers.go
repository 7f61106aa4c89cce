package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"helpdesk.org/internal/auth"
	"helpdesk.org/internal/ticket"
)

type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ClientID    string `json:"client_id"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type statusChangeResponse struct {
	Ticket         *ticket.Ticket `json:"ticket"`
	PreviousStatus ticket.Status  `json:"previous_status"`
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	t, err := a.tickets.Create(r.Context(), userID, req.Title, req.Description, req.ClientID)
	if err != nil {
		a.handleTicketError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/tickets/%s", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := a.tickets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.handleTicketError(w, r, err)
		return
	}
	// Non-admins only see their own tickets; others look missing.
	if userID, _ := auth.UserIDFromContext(r.Context()); t.OwnerID != userID && !auth.IsAdmin(r.Context()) {
		writeError(w, r, http.StatusNotFound, ticket.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status, err := ticket.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	prev, err := a.tickets.ChangeStatus(r.Context(), id, status)
	if err != nil {
		a.handleTicketError(w, r, err)
		return
	}
	a.audit.Event(r.Context(), "ticket.status.changed",
		zap.String("ticket_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
	)
	t, err := a.tickets.Get(r.Context(), id)
	if err != nil {
		a.handleTicketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusChangeResponse{Ticket: t, PreviousStatus: prev})
}

func (a *API) handleTicketError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ticket.ErrInvalidInput), errors.Is(err, ticket.ErrInvalidStatus):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ticket.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		a.log.Error("ticket operation failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
