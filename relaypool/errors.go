package relaypool

import "fmt"

// Stable error codes surfaced by the pool.
const (
	CodeConnectionLimit   = "ConnectionLimitExceeded"
	CodeConnectionTimeout = "ConnectionTimeout"
	CodeRelayFailed       = "RelayConnectionFailed"
)

// Error is a structured transport error carrying a stable code plus the
// relay endpoint and retry attempt count it applies to.
type Error struct {
	Code     string
	Relay    string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: relay %s (attempts=%d): %v", e.Code, e.Relay, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: relay %s (attempts=%d)", e.Code, e.Relay, e.Attempts)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err is a pool Error with the given code.
func IsCode(err error, code string) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}
