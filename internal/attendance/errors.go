package attendance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"joinrecs/internal/roster"
	"joinrecs/internal/session"
)

var (
	ErrValidation    = errors.New("invalid check-in")
	ErrMissingName   = fmt.Errorf("%w: name is required", ErrValidation)
	ErrMissingPhone  = fmt.Errorf("%w: phone is required", ErrValidation)
	ErrInvalidPhone  = fmt.Errorf("%w: phone must be 8 digits after 010", ErrValidation)
	ErrTooManyGuests = fmt.Errorf("%w: at most %d guests", ErrValidation, MaxCompanions)
	ErrRepeatedGuest = fmt.Errorf("%w: guest listed twice", ErrValidation)

	ErrRestrictedMember = errors.New("member is suspended or withdrawn")
	ErrDuplicate        = errors.New("already checked in today")
	ErrRateLimited      = errors.New("too many check-ins, slow down")
	ErrStorageRead      = errors.New("storage read failed")
	ErrStorageWrite     = errors.New("storage write failed")
	ErrRecordNotFound   = errors.New("record not found")
	ErrUnknownKind      = errors.New("unknown record kind")
)

// PartialWriteError reports that the primary record was stored but the
// accompanying guests were not. The participation itself stands.
type PartialWriteError struct {
	PrimaryID uuid.UUID
	Guests    []Guest
	Err       error
}

func (e *PartialWriteError) Error() string {
	names := make([]string, len(e.Guests))
	for i, g := range e.Guests {
		names[i] = g.Name
	}
	return fmt.Sprintf("check-in %s recorded but guests [%s] were not: %v", e.PrimaryID, strings.Join(names, ", "), e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrStorageWrite, e.Err}
}

// UserMessage returns the single message the kiosk shows for err.
func UserMessage(err error) string {
	var partial *PartialWriteError
	switch {
	case err == nil:
		return "Checked in. Have a good session!"
	case errors.As(err, &partial):
		return "Checked in, but your guests could not be recorded. Please tell the front desk."
	case errors.Is(err, ErrMissingName):
		return "Please enter a name."
	case errors.Is(err, ErrMissingPhone):
		return "Please enter a phone number for every guest."
	case errors.Is(err, ErrInvalidPhone):
		return "Phone numbers must be 8 digits after 010."
	case errors.Is(err, ErrTooManyGuests):
		return fmt.Sprintf("You can bring at most %d guests.", MaxCompanions)
	case errors.Is(err, ErrRepeatedGuest):
		return "The same guest is listed twice."
	case errors.Is(err, ErrValidation):
		return "Please check the form and try again."
	case errors.Is(err, roster.ErrAmbiguousMember):
		return "Several members share this name. Please pick yourself from the list."
	case errors.Is(err, ErrRestrictedMember):
		return "Your membership is not active. Please contact the front desk."
	case errors.Is(err, ErrDuplicate):
		return "Already checked in today."
	case errors.Is(err, ErrRateLimited):
		return "Please wait a moment before submitting again."
	case errors.Is(err, ErrRecordNotFound):
		return "That record no longer exists."
	case errors.Is(err, ErrUnknownKind):
		return "Unknown record kind."
	case errors.Is(err, session.ErrUnauthorized), errors.Is(err, session.ErrForbidden):
		return "Admin access required."
	case errors.Is(err, ErrStorageRead):
		return "Could not verify today's check-ins. Please try again."
	case errors.Is(err, ErrStorageWrite):
		return "Could not save your check-in. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
