package control

import (
	"errors"

	coreerrors "github.com/micro-manager/mmgocorex/pkg/errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatusError converts a domain error into a gRPC status so that the
// error category survives the wire.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *coreerrors.DomainError
	if !errors.As(err, &domainErr) {
		return status.Error(codes.Unknown, err.Error())
	}

	code := codes.Unknown
	switch domainErr.Category {
	case coreerrors.CategoryValidation:
		code = codes.InvalidArgument
	case coreerrors.CategoryNotFound:
		code = codes.NotFound
	case coreerrors.CategoryConflict:
		code = codes.FailedPrecondition
	case coreerrors.CategoryInternal, coreerrors.CategoryIO, coreerrors.CategoryProcess:
		code = codes.Internal
	case coreerrors.CategoryNetwork:
		code = codes.Unavailable
	case coreerrors.CategoryTimeout:
		code = codes.DeadlineExceeded
	case coreerrors.CategoryCancelled:
		code = codes.Canceled
	}

	return status.Error(code, domainErr.Error())
}

// fromStatusError reconstructs a domain error from a gRPC status, so callers
// of the remote gateway can use the same error predicates as against the
// in-process core.
func fromStatusError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return coreerrors.NewNetworkError("core call failed", err)
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return coreerrors.NewValidationError(st.Message(), nil)
	case codes.NotFound:
		return coreerrors.NewNotFoundError(st.Message(), nil)
	case codes.FailedPrecondition:
		return coreerrors.NewConflictError(st.Message(), nil)
	case codes.Internal:
		return coreerrors.NewInternalError(st.Message(), nil)
	case codes.DeadlineExceeded:
		return coreerrors.NewTimeoutError(st.Message(), nil)
	case codes.Canceled:
		return coreerrors.NewCancelledError(st.Message(), nil)
	case codes.Unavailable:
		return coreerrors.NewNetworkError(st.Message(), nil)
	default:
		return coreerrors.NewInternalError(st.Message(), nil)
	}
}
