// internal/roster/handler.go
package roster

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"joinrecs/internal/session"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type candidate struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// HandleSearch serves the kiosk name picker. Only ids and names are exposed.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	members, err := h.service.SearchMembers(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]candidate, len(members))
	for i, m := range members {
		out[i] = candidate{ID: m.ID, Name: m.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

type memberView struct {
	Member
	PhoneDisplay string `json:"phone_display"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]memberView, len(members))
	for i, m := range members {
		out[i] = memberView{Member: m, PhoneDisplay: FormatPhone(m.Phone)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name" validate:"required,max=64"`
		Phone  string `json:"phone" validate:"required,len=8,numeric"`
		Status string `json:"status" validate:"omitempty,oneof=active_full active_associate guest_tagged suspended withdrawn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.AddMember(r.Context(), session.FromContext(r.Context()), req.Name, req.Phone, Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberView{Member: *member, PhoneDisplay: FormatPhone(member.Phone)})
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	member, err := h.service.UpdateMemberStatus(r.Context(), session.FromContext(r.Context()), id, Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView{Member: *member, PhoneDisplay: FormatPhone(member.Phone)})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	events, err := h.service.History(r.Context(), session.FromContext(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrInvalidMember), errors.Is(err, ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrMemberNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrStaleMember), errors.Is(err, ErrAmbiguousMember), errors.Is(err, ErrDuplicateName):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
