package llm

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a provider-neutral transport or API error.
// Provider adapters translate SDK errors into this type.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	Provider    string
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeAuthentication  ErrorType = "authentication"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRequestTooLarge
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// IsTransportError reports whether err came from the provider transport
// rather than from local parsing or validation.
func IsTransportError(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr)
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   true,
		StatusCode:  413,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewStatusError classifies an HTTP status returned by a provider.
func NewStatusError(status int, message string, providerErr error) *Error {
	e := &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		StatusCode:  status,
		ProviderErr: providerErr,
	}
	switch {
	case status == 429:
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
	case status == 413:
		e.Type = ErrorTypeRequestTooLarge
		e.Retryable = true
	case status == 401 || status == 403:
		e.Type = ErrorTypeAuthentication
	case status >= 400 && status < 500:
		e.Type = ErrorTypeInvalidRequest
	case status >= 500:
		e.Retryable = true
	}
	return e
}

var (
	// ErrStreamNotFinalized is returned when a finalized-only accessor is
	// used before the stream reached its terminal event.
	ErrStreamNotFinalized = errors.New("stream not finalized")

	// ErrUnknownTool is wrapped by ArgumentDecodeError when the model names
	// a tool that was not offered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrStreamClosed is reported by a stream closed before its terminal event.
	ErrStreamClosed = errors.New("stream closed before completion")
)

// TemplateError reports a placeholder that could not be resolved when
// formatting a prompt template.
type TemplateError struct {
	Placeholder string
	Template    string
	Err         error
}

func (e *TemplateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template placeholder {%s}: %v", e.Placeholder, e.Err)
	}
	return fmt.Sprintf("template placeholder {%s} has no matching argument", e.Placeholder)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ArgumentDecodeError reports tool-call arguments that could not be decoded
// into the tool's argument type.
type ArgumentDecodeError struct {
	Tool       string
	ToolCallID string
	Input      string
	Err        error
}

func (e *ArgumentDecodeError) Error() string {
	return fmt.Sprintf("decode arguments for tool %q (call %s): %v", e.Tool, e.ToolCallID, e.Err)
}

func (e *ArgumentDecodeError) Unwrap() error { return e.Err }

// ExtractionError is returned when structured extraction exhausted its
// attempts without producing a valid value.
type ExtractionError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StreamFinalizationError reports accumulated tool-call arguments that did
// not parse at the end of a stream.
type StreamFinalizationError struct {
	Tool       string
	ToolCallID string
	Input      string
	Err        error
}

func (e *StreamFinalizationError) Error() string {
	return fmt.Sprintf("finalize streamed tool call %q (%s): %v", e.Tool, e.ToolCallID, e.Err)
}

func (e *StreamFinalizationError) Unwrap() error { return e.Err }

// IsTemplateError checks if an error is a template formatting error.
func IsTemplateError(err error) bool {
	var target *TemplateError
	return errors.As(err, &target)
}

// IsArgumentDecodeError checks if an error is a tool argument decode error.
func IsArgumentDecodeError(err error) bool {
	var target *ArgumentDecodeError
	return errors.As(err, &target)
}

// IsExtractionError checks if an error is an extraction error.
func IsExtractionError(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

// IsStreamFinalizationError checks if an error is a stream finalization error.
func IsStreamFinalizationError(err error) bool {
	var target *StreamFinalizationError
	return errors.As(err, &target)
}
