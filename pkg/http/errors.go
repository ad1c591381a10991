package http

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindUpstream is a non-2xx response or a network failure
	KindUpstream ErrorKind = iota
	// KindConsentRequired is a 403 that asks for a client consent
	KindConsentRequired
	// KindTimeout is a call that ran past its deadline
	KindTimeout
	// KindConfigMissing is a bank without credentials
	KindConfigMissing
)

func (k ErrorKind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindConsentRequired:
		return "consent_required"
	case KindTimeout:
		return "timeout"
	case KindConfigMissing:
		return "config_missing"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// APIError is the error returned by every Gateway method
type APIError struct {
	Kind       ErrorKind
	Bank       string
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s failed (%s", e.Bank, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status %d", e.StatusCode)
	}
	msg += ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of a gateway error. Context deadlines that never
// reached a gateway are reported as timeouts.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	return KindUpstream, false
}

func IsConsentRequired(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindConsentRequired
}

// NewConfigMissing reports a bank that cannot be called at all
func NewConfigMissing(bank string) error {
	return &APIError{
		Kind:   KindConfigMissing,
		Bank:   bank,
		Op:     "configure",
		Detail: "no client credentials configured",
	}
}
