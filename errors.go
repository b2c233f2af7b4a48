package present

import "errors"

// Presenter errors.
var (
	// ErrClosed is returned by operations on a closed presenter.
	ErrClosed = errors.New("present: presenter closed")

	// ErrNilTransaction is returned when submitting a nil transaction.
	ErrNilTransaction = errors.New("present: nil transaction")

	// ErrUnknownDisplay is returned for display ids and layer handles that
	// do not belong to a display of the presenter.
	ErrUnknownDisplay = errors.New("present: unknown display")
)
