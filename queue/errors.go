package queue

import (
	"errors"
	"fmt"
)

// Error codes for enqueue and processing failures.
const (
	CodeInvalidMessageType = "InvalidMessageType"
	CodeQueueFull          = "QueueFull"
	CodeProcessTimeout     = "ProcessTimeout"
)

// Error carries a stable code alongside the item type it relates to.
type Error struct {
	Code string
	Type string
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeInvalidMessageType:
		return fmt.Sprintf("queue: no handler registered for type %q", e.Type)
	case CodeQueueFull:
		return "queue: buffer full"
	case CodeProcessTimeout:
		return "queue: handler exceeded processing timeout"
	default:
		return "queue: " + e.Code
	}
}

// IsCode reports whether err is a queue Error with the given code.
func IsCode(err error, code string) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}
