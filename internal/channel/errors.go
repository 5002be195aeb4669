package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two transient failure classes and for replies that
// match no known shape. Callers treat all three as "the turn failed, state
// untouched, retry allowed".
var (
	ErrNetwork           = errors.New("network error")
	ErrConnection        = errors.New("connection failed")
	ErrMalformedResponse = errors.New("malformed response")
)

// RemoteError is a non-2xx reply from a persona endpoint. The body is kept so
// a provider message can be surfaced.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: status %d: %s", e.Status, e.Body)
}

// Transient reports whether err is a failure the caller may simply retry:
// transport errors and remote errors leave the session in its pre-turn state.
func Transient(err error) bool {
	var remote *RemoteError
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrConnection) || errors.As(err, &remote)
}
