package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hydrawlics/internal/errs"
	"hydrawlics/internal/jobs"
)

// Error is an API failure written as {"error": message}.
type Error struct {
	Code    int
	Message string
	Err     error
}

func newError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// fromError picks the status code for err.
func fromError(err error) *Error {
	e := &Error{Code: http.StatusInternalServerError, Message: err.Error(), Err: err}
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		e.Code, e.Message = http.StatusNotFound, "Job not found"
	case errors.Is(err, jobs.ErrNotReady):
		e.Code, e.Message = http.StatusBadRequest, "Job not completed yet"
	case errors.Is(err, jobs.ErrTerminal):
		e.Code, e.Message = http.StatusConflict, "Job already finished"
	case errs.KindOf(err) == errs.Input:
		e.Code = http.StatusBadRequest
	}
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(map[string]string{"error": e.Message})
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (e *Error) HTTPStatus() int { return e.Code }
