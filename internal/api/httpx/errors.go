package httpx

import (
	"net/http"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

type errorMapping struct {
	status int
	code   string
}

var errorKinds = map[error]errorMapping{
	settlement.ErrUnauthorized:       {http.StatusForbidden, "unauthorized"},
	settlement.ErrState:              {http.StatusConflict, "status_mismatch"},
	settlement.ErrInsufficientFunds:  {http.StatusUnprocessableEntity, "insufficient_funds"},
	settlement.ErrDuplicate:          {http.StatusConflict, "duplicate"},
	settlement.ErrStale:              {http.StatusConflict, "not_stale"},
	settlement.ErrPaused:             {http.StatusServiceUnavailable, "paused"},
	settlement.ErrRange:              {http.StatusBadRequest, "amount_out_of_range"},
	settlement.ErrNotFound:           {http.StatusNotFound, "not_found"},
	settlement.ErrInvalid:            {http.StatusBadRequest, "invalid_argument"},
	settlement.ErrAlreadyInitialized: {http.StatusConflict, "already_initialized"},
	settlement.ErrUnsupported:        {http.StatusBadRequest, "unsupported"},
}

// statusFor returns the HTTP status and error code for err.
func statusFor(err error) (int, string) {
	if m, ok := errorKinds[settlement.Kind(err)]; ok {
		return m.status, m.code
	}
	return http.StatusInternalServerError, "internal_error"
}
