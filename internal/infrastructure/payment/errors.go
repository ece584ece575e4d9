package payment

import (
	"errors"
	"fmt"

	"printshop-checkout/internal/domain"
)

type Kind string

const (
	// KindConfiguration means the method has no credential; never retry.
	KindConfiguration Kind = "configuration"
	// KindInvalidRequest means the request lacks data the method needs.
	KindInvalidRequest Kind = "invalid_request"
	// KindTransient covers network failures, timeouts and gateway 5xx.
	KindTransient Kind = "transient"
	// KindRejected is a well-formed reply with a non-success status.
	KindRejected Kind = "rejected"
	// KindMalformed is a reply that is neither JSON nor the pipe format.
	KindMalformed Kind = "malformed"
)

type Error struct {
	Kind    Kind
	Method  domain.Method
	Code    string
	Message string
	Raw     string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("payment %s: %s", e.Method, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a gateway error, or "" for anything else.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
