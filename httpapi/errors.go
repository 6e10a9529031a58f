package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/campusauth"
)

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusOf(kind campusauth.ErrorKind) int {
	switch kind {
	case campusauth.KindBadRequest:
		return http.StatusBadRequest
	case campusauth.KindUnauthorized:
		return http.StatusUnauthorized
	case campusauth.KindForbidden:
		return http.StatusForbidden
	case campusauth.KindTooManyAttempts, campusauth.KindTooManyRequests:
		return http.StatusTooManyRequests
	case campusauth.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageOf keeps credential failures generic so responses do not reveal
// whether an identifier exists.
func messageOf(err error) string {
	switch {
	case errors.Is(err, campusauth.ErrInvalidCode):
		return "Invalid or Expired OTP"
	case errors.Is(err, campusauth.ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, campusauth.ErrInvalidAssertion):
		return "Invalid Google credential"
	case errors.Is(err, campusauth.ErrNoLinkedAccount):
		return "No account is linked to this Google identity"
	case errors.Is(err, campusauth.ErrAccountDisabled):
		return "Account disabled"
	case errors.Is(err, campusauth.ErrAccountUnverified):
		return "Account not verified"
	case errors.Is(err, campusauth.ErrTooManyAttempts):
		return "Too many attempts, try again later"
	case errors.Is(err, campusauth.ErrTooManyRequests):
		return "Please wait before requesting another code"
	}
	switch campusauth.KindOf(err) {
	case campusauth.KindUnauthorized:
		return "Invalid credentials"
	case campusauth.KindInternal:
		return "Internal error"
	default:
		return http.StatusText(statusOf(campusauth.KindOf(err)))
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	kind := campusauth.KindOf(err)
	status := statusOf(kind)
	if kind == campusauth.KindInternal {
		h.logger.Error("request failed",
			zap.String("route", c.Path()),
			zap.String("ip", c.RealIP()),
			zap.Error(err),
		)
	}
	if d, ok := campusauth.RetryAfter(err); ok {
		c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(ceilSeconds(d.Seconds())))
	}
	return c.JSON(status, errorBody{Error: messageOf(err), Code: campusauth.RefreshReasonCode(err)})
}

func ceilSeconds(s float64) int {
	n := int(math.Ceil(s))
	if n < 1 {
		return 1
	}
	return n
}
