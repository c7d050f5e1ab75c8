package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider errors for client handling
type ErrorType string

const (
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 429 - too many requests
	ErrorTypeAuth          ErrorType = "auth"           // 400/401 - bad or missing API key
	ErrorTypeKeyRestricted ErrorType = "key_restricted" // 403 - key blocked by referrer/IP restrictions
	ErrorTypeProviderDown  ErrorType = "provider_down"  // 5xx - upstream issue
	ErrorTypeModeration    ErrorType = "moderation"     // content flagged
	ErrorTypeUnknown       ErrorType = "unknown"        // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type     ErrorType // Classification
	Provider string    // "gemini", "mock"
	Code     string    // Raw error code ("429", "PERMISSION_DENIED")
	Message  string    // Human-readable message
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap allows errors.Is/As to work through wrapped errors
func (e *ProviderError) Unwrap() error {
	return nil
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// referrerRestricted reports whether the raw provider error describes an
// API key that is locked to specific HTTP referrers. Keys created through
// browser consoles frequently carry this restriction and fail for a
// headless controller with an opaque PERMISSION_DENIED.
func referrerRestricted(message string) bool {
	upper := strings.ToUpper(message)
	return strings.Contains(upper, "API_KEY_HTTP_REFERRER_BLOCKED") ||
		strings.Contains(upper, "REFERER") ||
		strings.Contains(upper, "REFERRER")
}

// RestrictedKeyGuidance is surfaced to users when their key carries HTTP
// referrer restrictions that a server-side caller can never satisfy.
const RestrictedKeyGuidance = "Your API key has HTTP referrer restrictions and cannot be used from a server. " +
	"Create an unrestricted key (or one restricted by IP) in your provider console and update the configuration."
