package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeSyncTimeout represents a wait predicate that did not become true in time
	ErrorTypeSyncTimeout ErrorType = "sync_timeout"
	// ErrorTypePagerShape represents a pager that matched none of the known shapes
	ErrorTypePagerShape ErrorType = "pager_shape"
	// ErrorTypeSessionLost represents an automation session that became unusable
	ErrorTypeSessionLost ErrorType = "session_lost"
	// ErrorTypeFilterEnumeration represents a filter control without selectable values
	ErrorTypeFilterEnumeration ErrorType = "filter_enumeration"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// HarvestError represents a harvester-specific error
type HarvestError struct {
	Type    ErrorType
	Step    string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Step, e.Message)
}

// Unwrap returns the underlying error
func (e *HarvestError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must halt the whole crawl
func (e *HarvestError) IsFatal() bool {
	switch e.Type {
	case ErrorTypeSessionLost, ErrorTypeFilterEnumeration, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// Is reports whether any error in err's chain is a HarvestError of the given type
func Is(err error, errType ErrorType) bool {
	var he *HarvestError
	if !stderrors.As(err, &he) {
		return false
	}
	if he.Type == errType {
		return true
	}
	return he.Err != nil && Is(he.Err, errType)
}

// IsFatal reports whether err carries a fatal HarvestError
func IsFatal(err error) bool {
	var he *HarvestError
	if !stderrors.As(err, &he) {
		return false
	}
	return he.IsFatal()
}

// New creates a new HarvestError
func New(errType ErrorType, step, message string, err error) *HarvestError {
	return &HarvestError{
		Type:    errType,
		Step:    step,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewSyncTimeout creates a new sync timeout error
func NewSyncTimeout(step string, timeout time.Duration) *HarvestError {
	message := fmt.Sprintf("condition not met within %v", timeout)
	return New(ErrorTypeSyncTimeout, step, message, nil)
}

// NewPagerShape creates a new unrecognized pager shape error
func NewPagerShape(step, message string) *HarvestError {
	return New(ErrorTypePagerShape, step, message, nil)
}

// NewSessionLost creates a new session lost error
func NewSessionLost(step string, err error) *HarvestError {
	return New(ErrorTypeSessionLost, step, "automation session is unusable", err)
}

// NewFilterEnumerationEmpty creates a new empty filter enumeration error
func NewFilterEnumerationEmpty(control string) *HarvestError {
	return New(ErrorTypeFilterEnumeration, control, "no selectable filter values", nil)
}

// NewParsing creates a new parsing error
func NewParsing(step, message string, err error) *HarvestError {
	return New(ErrorTypeParsing, step, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(step, message string, err error) *HarvestError {
	return New(ErrorTypePublisher, step, message, err)
}

// NewCache creates a new cache error
func NewCache(step, message string, err error) *HarvestError {
	return New(ErrorTypeCache, step, message, err)
}

// NewValidation creates a new validation error
func NewValidation(step, message string) *HarvestError {
	return New(ErrorTypeValidation, step, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *HarvestError {
	return New(ErrorTypeConfiguration, "", message, err)
}
