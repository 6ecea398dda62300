package nwc

import (
	"errors"
	"fmt"
	"strings"
)

// Client-side error codes.
const (
	CodeInvalidDescriptor = "InvalidConnectionDescriptor"
	CodeNotConnected      = "NotConnected"
	CodeUnsupportedMethod = "UnsupportedMethod"
	CodeRequestTimeout    = "RequestTimeout"
	CodePaymentTimeout    = "PaymentTimeout"
	CodeConnectionTimeout = "ConnectionTimeout"
	CodeConnectionLost    = "ConnectionLost"
	CodeRateLimited       = "RateLimited"
)

// Wallet-side error codes as they appear on the wire.
const (
	RemoteRateLimited         = "RATE_LIMITED"
	RemoteNotImplemented      = "NOT_IMPLEMENTED"
	RemoteInsufficientBalance = "INSUFFICIENT_BALANCE"
	RemoteQuotaExceeded       = "QUOTA_EXCEEDED"
	RemoteRestricted          = "RESTRICTED"
	RemoteUnauthorized        = "UNAUTHORIZED"
	RemoteInternal            = "INTERNAL"
	RemoteOther               = "OTHER"
	RemotePaymentFailed       = "PAYMENT_FAILED"
	RemoteNotFound            = "NOT_FOUND"
)

// Error is a wallet-connect failure, either produced locally (client codes)
// or relayed from the wallet service (remote codes).
type Error struct {
	Code    string
	Message string
	Remote  bool // true when the wallet service returned the error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "nwc: " + e.Code
	}
	return fmt.Sprintf("nwc: %s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an nwc Error with the given code.
func IsCode(err error, code string) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code == code
	}
	return false
}

// IsRetryable reports whether the failure might clear on retry.
func IsRetryable(err error) bool {
	var ne *Error
	if errors.As(err, &ne) {
		switch ne.Code {
		case RemoteRateLimited, CodeRateLimited,
			CodeRequestTimeout, CodeConnectionTimeout, CodeConnectionLost:
			return true
		}
		return false
	}
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "connection")
}
