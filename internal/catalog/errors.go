package catalog

import "errors"

// Error kinds the rest of the engine maps onto HTTP status codes and
// retry behavior. Every package that touches the catalog wraps the
// underlying driver error with one of these via fmt.Errorf("...: %w").
var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrConflict     = errors.New("catalog: conflict")
	ErrTransientIO  = errors.New("catalog: transient io error")
	ErrFatalIO      = errors.New("catalog: fatal io error")
	ErrCancelled    = errors.New("catalog: operation cancelled")
	ErrInvalidInput = errors.New("catalog: invalid input")
)
