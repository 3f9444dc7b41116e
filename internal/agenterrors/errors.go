// Package agenterrors defines the closed set of error codes used across the
// execution core and the AgentError type that carries them. Codes are grouped
// by origin so recovery policy can be expressed per code.
package agenterrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code tags an error with its origin and failure class.
type Code string

const (
	// LLM provider failures
	CodeLLMTimeout        Code = "LLM_TIMEOUT"
	CodeLLMRateLimited    Code = "LLM_RATE_LIMITED"
	CodeLLMAuthFailed     Code = "LLM_AUTH_FAILED"
	CodeLLMContextTooLong Code = "LLM_CONTEXT_TOO_LONG"
	CodeLLMUnavailable    Code = "LLM_PROVIDER_UNAVAILABLE"

	// Tool execution failures
	CodeToolNotFound         Code = "TOOL_NOT_FOUND"
	CodeToolValidationFailed Code = "TOOL_VALIDATION_FAILED"
	CodeToolExecutionFailed  Code = "TOOL_EXECUTION_FAILED"
	CodeToolTimeout          Code = "TOOL_TIMEOUT"
	CodeToolRateLimited      Code = "TOOL_RATE_LIMITED"

	// Loop-level failures
	CodeExecutionTimeout       Code = "EXECUTION_TIMEOUT"
	CodeExecutionMaxIterations Code = "EXECUTION_MAX_ITERATIONS"
	CodeExecutionAborted       Code = "EXECUTION_ABORTED"
	CodeExecutionFailed        Code = "EXECUTION_FAILED"

	// Supporting subsystems
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
	CodeConfigInvalid   Code = "CONFIG_INVALID"
	CodeHookBlocked     Code = "HOOK_BLOCKED"
	CodeHookFailed      Code = "HOOK_FAILED"

	CodeUnknown Code = "UNKNOWN"
)

// recoverableCodes are codes where the loop may continue or a recovery
// strategy may be attempted. Everything else terminates the run.
var recoverableCodes = map[Code]bool{
	CodeLLMTimeout:           true,
	CodeLLMRateLimited:       true,
	CodeLLMContextTooLong:    true,
	CodeLLMUnavailable:       true,
	CodeToolNotFound:         true,
	CodeToolValidationFailed: true,
	CodeToolExecutionFailed:  true,
	CodeToolTimeout:          true,
	CodeToolRateLimited:      true,
	CodeHookBlocked:          true,
	CodeHookFailed:           true,
}

// AgentError is a coded error with a recoverable flag and free-form context.
type AgentError struct {
	Code        Code
	Message     string
	Recoverable bool
	Context     map[string]any
	Cause       error
}

// New creates an AgentError. The recoverable flag follows the code's default
// and can be overridden with WithRecoverable.
func New(code Code, message string) *AgentError {
	return &AgentError{
		Code:        code,
		Message:     message,
		Recoverable: recoverableCodes[code],
	}
}

// Wrap creates an AgentError around a cause.
func Wrap(code Code, cause error) *AgentError {
	e := New(code, "")
	e.Cause = cause
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithContext attaches one context value.
func (e *AgentError) WithContext(key string, value any) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides the code's default recoverable flag.
func (e *AgentError) WithRecoverable(recoverable bool) *AgentError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s]", e.Code))
	if e.Message != "" {
		sb.WriteString(" " + e.Message)
	} else if e.Cause != nil {
		sb.WriteString(" " + e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Get extracts an AgentError from an error chain.
func Get(err error) (*AgentError, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the error's code, or CodeUnknown when uncoded.
func CodeOf(err error) Code {
	if ae, ok := Get(err); ok {
		return ae.Code
	}
	return CodeUnknown
}

// IsRecoverable reports whether the error chain carries a recoverable
// AgentError. Uncoded errors are not recoverable.
func IsRecoverable(err error) bool {
	if ae, ok := Get(err); ok {
		return ae.Recoverable
	}
	return false
}

// UserMessage returns a templated, user-safe message for terminal errors.
// Raw provider or tool error text never reaches the end user.
func UserMessage(err error) string {
	switch CodeOf(err) {
	case CodeLLMAuthFailed:
		return "The model provider rejected our credentials. Please check the provider configuration."
	case CodeLLMRateLimited:
		return "The model provider is rate limiting requests. Please try again shortly."
	case CodeLLMUnavailable:
		return "No model provider is currently available. Please try again later."
	case CodeLLMContextTooLong:
		return "The conversation grew too large for the model. Please start a new session."
	case CodeExecutionMaxIterations:
		return "I reached my step limit before finishing. The partial results above may still be useful."
	case CodeExecutionTimeout:
		return "I ran out of time before finishing. The partial results above may still be useful."
	case CodeExecutionAborted:
		return "The run was stopped before it finished."
	default:
		return "Something went wrong while processing your request. Please try again."
	}
}
