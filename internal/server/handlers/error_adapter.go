package handlers

import (
	"net/http"

	apperrors "github.com/avrlink/avrlink/internal/errors"
)

// ErrorResponder writes err as an HTTP error response.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var respond ErrorResponder = apperrors.RespondWithError

// SetErrorResponder replaces the responder used by every handler in this
// package and returns a function that restores the previous one. A nil
// responder selects the default envelope writer.
func SetErrorResponder(fn ErrorResponder) (restore func()) {
	prev := respond
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	respond = fn
	return func() { respond = prev }
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	respond(w, r, err)
}
