package delivery

import (
	"errors"
	"fmt"
)

// TransportError is a transient delivery failure. The row is retried until
// it runs out of attempts.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PermanentError is a failure that no retry can fix, such as a malformed
// recipient address. The row fails immediately.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Reason
}

// IsPermanent reports whether err carries a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
