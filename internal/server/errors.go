package server

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/version"
)

// errBadRequest marks malformed input rejected before reaching the store
var errBadRequest = errors.New("bad request")

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == errBadRequest }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// httpStatus maps an operation error to its HTTP status
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, version.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, version.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, version.ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// grpcError maps an operation error to a gRPC status error
func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, errBadRequest):
		code = codes.InvalidArgument
	case errors.Is(err, version.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, version.ErrInvalidState):
		code = codes.FailedPrecondition
	case errors.Is(err, version.ErrTransientIO):
		code = codes.Unavailable
	}
	return status.Error(code, errorMessage(err))
}

// errorMessage is the text shown to clients. Store errors expose only their
// message, never the wrapped cause.
func errorMessage(err error) string {
	var verr *version.Error
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

// outcome labels an operation result for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, version.ErrNotFound):
		return "not_found"
	case errors.Is(err, version.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, version.ErrTransientIO):
		return "transient_io"
	default:
		return "error"
	}
}
