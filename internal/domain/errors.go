package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// InitializationError means an orchestrator could not obtain any usable
// bootstrap data. It is fatal to that orchestrator instance: running
// with silently empty state is never acceptable.
type InitializationError struct {
	Component string
	Err       error
}

func (e *InitializationError) Error() string {
	return "initialization failed [" + e.Component + "]: " + e.Err.Error()
}

func (e *InitializationError) IsRetriable() bool {
	return false
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// LookupError means an order lookup fell through to the REST fallback
// and the fallback itself failed. Callers must be able to tell this
// apart from ErrOrderNotFound: a failed lookup may succeed on retry, a
// genuinely unknown order will not.
type LookupError struct {
	OrderID string
	Err     error
}

func (e *LookupError) Error() string {
	return "order lookup failed [" + e.OrderID + "]: " + e.Err.Error()
}

func (e *LookupError) IsRetriable() bool {
	return true
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrOrderNotFound is returned when an order exists in no store and the
	// exchange confirms it is unknown.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrchestratorClosed is returned by operations on a closed orchestrator.
	ErrOrchestratorClosed = errors.New("orchestrator closed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
