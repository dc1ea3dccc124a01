package version

import "errors"

// Error kinds. Match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrTransientIO  = errors.New("transient i/o error")
)

// Error is a failed store operation. Message is safe to show to the user.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Is reports whether target is the kind of e
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func notFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func invalidState(msg string) error {
	return &Error{Kind: ErrInvalidState, Message: msg}
}

func transientIO(msg string, err error) error {
	return &Error{Kind: ErrTransientIO, Message: msg, Err: err}
}
