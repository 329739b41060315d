package stocktag

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("unsupported file type")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrDescription   = errors.New("description failed")
	ErrEmbed         = errors.New("embed failed")
	ErrTransport     = errors.New("transport failed")
	ErrConfig        = errors.New("invalid config")
	ErrSkipped       = errors.New("skipped")
)

// ItemError is a failure tied to a single input file.
type ItemError struct {
	Item string
	Kind error
	Err  error
}

func (e *ItemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Item, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Item, e.Kind, e.Err)
}

func (e *ItemError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func itemErr(kind error, item string, err error) error {
	return &ItemError{Item: item, Kind: kind, Err: err}
}

// QuotaError is returned when a batch would exceed the daily ceiling.
type QuotaError struct {
	Requested int
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%v: requested %d, remaining %d", ErrQuotaExceeded, e.Requested, e.Remaining)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// TransportError reports a sink that delivered only part of a batch.
type TransportError struct {
	Sink      string
	Delivered int
	Total     int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: delivered %d of %d: %v", e.Sink, e.Delivered, e.Total, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
