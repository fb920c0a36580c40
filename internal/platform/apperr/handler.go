package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Type    string              `json:"type"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// Status maps err onto an HTTP status code and response body.
func Status(err error) (int, Body) {
	var (
		ve  *ValidationError
		pe  *PermissionError
		nfe *NotFoundError
		he  *echo.HTTPError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, Body{Error: BodyError{Type: "validation_error", Message: ve.Error(), Fields: ve.Fields}}
	case errors.As(err, &pe):
		return http.StatusForbidden, Body{Error: BodyError{Type: "permission_denied", Message: pe.Message}}
	case errors.As(err, &nfe):
		return http.StatusNotFound, Body{Error: BodyError{Type: "not_found", Message: nfe.Error()}}
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, Body{Error: BodyError{Type: "http_error", Message: msg}}
	default:
		return http.StatusInternalServerError, Body{Error: BodyError{Type: "internal_error", Message: "internal server error"}}
	}
}

// ErrorHandler is installed as echo's HTTPErrorHandler.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, body := Status(err)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}
