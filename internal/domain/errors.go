package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDomainCreate  = errors.New("domain creation failed")
	ErrInvalidConfig = errors.New("invalid domain config")
)

// CreateError carries the toolstack status of a failed domain creation.
type CreateError struct {
	Code int
	Err  error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("%v (code %d): %v", ErrDomainCreate, e.Code, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

func (e *CreateError) Is(target error) bool { return target == ErrDomainCreate }

// exitCoder is implemented by *exec.ExitError.
type exitCoder interface {
	ExitCode() int
}

// newCreateError takes the code from the first exit status found in err,
// falling back to 1.
func newCreateError(err error) *CreateError {
	code := 1
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() > 0 {
		code = ec.ExitCode()
	}
	return &CreateError{Code: code, Err: err}
}

// ExitCode returns the process exit status for err, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *CreateError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 1
}
