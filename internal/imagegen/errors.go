package imagegen

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Cause classifies why a transformation failed.
type Cause string

const (
	CauseRateLimited   Cause = "rate_limited"
	CauseOverloaded    Cause = "overloaded"
	CauseSafetyBlocked Cause = "safety_blocked"
	CauseInvalidInput  Cause = "invalid_input"
	CauseAuth          Cause = "auth"
	CauseUnknown       Cause = "unknown"
)

// Retryable reports whether another attempt may succeed without user action.
func (c Cause) Retryable() bool {
	switch c {
	case CauseRateLimited, CauseOverloaded, CauseUnknown:
		return true
	}
	return false
}

// DefaultMessage is the user-facing text stored on the image.
func (c Cause) DefaultMessage() string {
	switch c {
	case CauseRateLimited:
		return "Rate limit exceeded. Retrying..."
	case CauseOverloaded:
		return "Model is busy. Retrying..."
	case CauseSafetyBlocked:
		return "Blocked by AI safety filters. Please try a different prompt."
	case CauseInvalidInput:
		return "The image could not be processed. Please check the file."
	case CauseAuth:
		return "Image service is not authorized. Please contact support."
	}
	return "Processing failed. Retrying..."
}

// TransformError is returned by transformers for every failed call.
type TransformError struct {
	Cause   Cause
	Message string
	Err     error
}

// NewError builds a TransformError. An empty message falls back to the cause default.
func NewError(cause Cause, message string, err error) *TransformError {
	if strings.TrimSpace(message) == "" {
		message = cause.DefaultMessage()
	}
	return &TransformError{Cause: cause, Message: message, Err: err}
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return string(e.Cause) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Cause) + ": " + e.Message
}

func (e *TransformError) Unwrap() error { return e.Err }

// CauseOf extracts the cause of err; untyped errors are CauseUnknown.
func CauseOf(err error) Cause {
	var te *TransformError
	if errors.As(err, &te) {
		return te.Cause
	}
	return CauseUnknown
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var te *TransformError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

var titleCaser = cases.Title(language.English)

// HumanizeReason turns provider tokens such as "PROHIBITED_CONTENT" into
// "Prohibited Content".
func HumanizeReason(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	words := strings.ReplaceAll(strings.ToLower(token), "_", " ")
	return titleCaser.String(words)
}
