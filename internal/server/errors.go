package server

import (
	"net/http"

	apperrors "github.com/avrlink/avrlink/internal/errors"
)

// HandleError writes err as an error envelope. Router fallbacks, the
// metrics proxy and every handler share it.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
