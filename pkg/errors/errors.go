package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeLaunch represents browser/driver/display launch failures
	ErrorTypeLaunch ErrorType = "launch"
	// ErrorTypeNavigation represents page navigation failures
	ErrorTypeNavigation ErrorType = "navigation"
	// ErrorTypeTimeout represents bounded waits that expired
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeExtraction represents structurally unrecognizable pages
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeRateLimit represents rate limiting / blocking by the site
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeDelivery represents notification transport failures
	ErrorTypeDelivery ErrorType = "delivery"
	// ErrorTypeLedger represents seen-item ledger failures
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeFatal represents conditions that must stop the process
	ErrorTypeFatal ErrorType = "fatal"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// WatchError represents a classified watcher error
type WatchError struct {
	Type      ErrorType
	Component string
	Message   string
	Err       error
	Time      time.Time
}

// Error implements the error interface
func (e *WatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *WatchError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should trigger backoff rather
// than stopping the process
func (e *WatchError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNavigation, ErrorTypeTimeout, ErrorTypeExtraction,
		ErrorTypeRateLimit, ErrorTypeDelivery, ErrorTypeLaunch:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error must propagate to process exit
func (e *WatchError) IsFatal() bool {
	return e.Type == ErrorTypeFatal || e.Type == ErrorTypeConfiguration
}

// New creates a new WatchError
func New(errType ErrorType, component, message string, err error) *WatchError {
	return &WatchError{
		Type:      errType,
		Component: component,
		Message:   message,
		Err:       err,
		Time:      time.Now(),
	}
}

// NewLaunch creates a new launch error
func NewLaunch(component, message string, err error) *WatchError {
	return New(ErrorTypeLaunch, component, message, err)
}

// NewNavigation creates a new navigation error
func NewNavigation(component, message string, err error) *WatchError {
	return New(ErrorTypeNavigation, component, message, err)
}

// NewTimeout creates a new timeout error
func NewTimeout(component, message string, err error) *WatchError {
	return New(ErrorTypeTimeout, component, message, err)
}

// NewExtraction creates a new extraction error
func NewExtraction(component, message string, err error) *WatchError {
	return New(ErrorTypeExtraction, component, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(component string, duration time.Duration) *WatchError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, component, message, nil)
}

// NewDelivery creates a new delivery error
func NewDelivery(component, message string, err error) *WatchError {
	return New(ErrorTypeDelivery, component, message, err)
}

// NewLedger creates a new ledger error
func NewLedger(component, message string, err error) *WatchError {
	return New(ErrorTypeLedger, component, message, err)
}

// NewFatal creates a new fatal error
func NewFatal(component, message string, err error) *WatchError {
	return New(ErrorTypeFatal, component, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *WatchError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// TypeOf returns the classified type of an error, or an empty string
// for unclassified errors
func TypeOf(err error) ErrorType {
	var we *WatchError
	if errors.As(err, &we) {
		return we.Type
	}
	return ""
}

// IsFatal reports whether err carries a fatal classification
func IsFatal(err error) bool {
	var we *WatchError
	if errors.As(err, &we) {
		return we.IsFatal()
	}
	return false
}
