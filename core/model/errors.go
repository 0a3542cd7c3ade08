package model

import (
	"errors"
	"fmt"
)

// ReasonCode is the machine-readable cause of a rejected operation.
type ReasonCode string

const (
	CodeInputInvalid          ReasonCode = "INPUT_INVALID"
	CodeForecastNotSolvable   ReasonCode = "FORECAST_NOT_SOLVABLE"
	CodeConfigInvalid         ReasonCode = "CONFIG_INVALID"
	CodeNotFound              ReasonCode = "NOT_FOUND"
	CodeInvalidTransition     ReasonCode = "INVALID_TRANSITION"
	CodeAuditGateBlocked      ReasonCode = "AUDIT_GATE_BLOCKED"
	CodeFreezeWindowViolation ReasonCode = "FREEZE_WINDOW_VIOLATION"
	CodeOverrideRejected      ReasonCode = "OVERRIDE_REJECTED"
	CodePlanImmutable         ReasonCode = "PLAN_IMMUTABLE"
	CodeAuditAppendOnly       ReasonCode = "AUDIT_APPEND_ONLY"
	CodeCancelled             ReasonCode = "CANCELLED"
)

// Error carries a reason code and structured details for callers.
type Error struct {
	Code    ReasonCode     `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ReasonCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail sets a detail value and returns e.
func (e *Error) WithDetail(key string, v any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = v
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf returns the reason code carried by err, or "" if none.
func CodeOf(err error) ReasonCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given reason code.
func IsCode(err error, code ReasonCode) bool { return CodeOf(err) == code }
