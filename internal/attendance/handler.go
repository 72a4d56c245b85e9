// internal/attendance/handler.go
package attendance

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"joinrecs/internal/roster"
	"joinrecs/internal/session"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type checkInBody struct {
	Name     string     `json:"name" validate:"max=64"`
	MemberID *uuid.UUID `json:"member_id"`
	Phone    string     `json:"phone" validate:"max=20"`
	Guests   []struct {
		Name  string `json:"name" validate:"max=64"`
		Phone string `json:"phone" validate:"max=20"`
	} `json:"guests" validate:"max=4,dive"`
}

type failure struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HandleCheckIn accepts the kiosk form. Field rules beyond sizes are left to
// the service so that each failure gets its own message.
func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: UserMessage(ErrValidation)})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Message: UserMessage(ErrValidation)})
		return
	}

	req := CheckInRequest{
		Name:      body.Name,
		MemberID:  body.MemberID,
		Phone:     body.Phone,
		UserAgent: r.UserAgent(),
	}
	for _, g := range body.Guests {
		req.Guests = append(req.Guests, Guest{Name: g.Name, Phone: g.Phone})
	}

	result, err := h.service.SubmitCheckIn(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), failure{Message: UserMessage(err)})
		return
	}

	status := http.StatusCreated
	if result.Warning != "" {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// HandleDailyLog serves one civil day as JSON, or as the printable CSV when
// format=csv.
func (h *Handler) HandleDailyLog(w http.ResponseWriter, r *http.Request) {
	day, err := h.service.GetDailyLog(r.Context(), session.FromContext(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, UserMessage(err), statusFor(err))
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, day)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="attendance-`+day.Date+`.csv"`)
		if err := WriteCSV(w, day.Window, day.Records); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("date", day.Date).Msg("failed to write daily log csv")
		}
	default:
		http.Error(w, "unknown format", http.StatusBadRequest)
	}
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, UserMessage(err), http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid record ID", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteRecord(r.Context(), session.FromContext(r.Context()), kind, id); err != nil {
		status := statusFor(err)
		msg := UserMessage(err)
		if status >= http.StatusInternalServerError {
			hlog.FromRequest(r).Error().Err(err).Str("id", id.String()).Msg("failed to delete record")
			msg = "Could not delete the record. Please try again."
		}
		http.Error(w, msg, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	var partial *PartialWriteError
	switch {
	case errors.As(err, &partial):
		return http.StatusMultiStatus
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, ErrRestrictedMember):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicate), errors.Is(err, roster.ErrAmbiguousMember):
		return http.StatusConflict
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
