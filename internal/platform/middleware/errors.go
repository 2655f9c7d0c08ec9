package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentalcare/clinic/internal/platform/apperr"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders echo and apperr errors as ErrorResponse. Errors of
// unknown type become a masked 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := ErrorResponse{Error: "internal server error"}
		body.RequestID, _ = c.Get("request_id").(string)

		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(status)
			}
			if he.Internal != nil && apperr.KindOf(he.Internal) != apperr.KindInternal {
				body.Kind = apperr.KindOf(he.Internal).String()
			}
		case apperr.KindOf(err) != apperr.KindInternal:
			status = apperr.HTTPStatus(err)
			body.Error = apperr.Message(err)
			body.Kind = apperr.KindOf(err).String()
		default:
			logger.Error().Err(err).Str("request_id", body.RequestID).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// HTTPError converts a service error into an *echo.HTTPError carrying the
// status and client-safe message for its apperr kind.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err)).SetInternal(err)
}
