package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRatingCode matches any UnknownRatingCodeError.
	ErrUnknownRatingCode = errors.New("unknown rating code")
	// ErrPriceParse matches any PriceParseError.
	ErrPriceParse = errors.New("price parse")
	// ErrMissingIdentifier matches any MissingIdentifierError.
	ErrMissingIdentifier = errors.New("missing identifier")
)

// UnknownRatingCodeError reports a star-rating class outside the known vocabulary.
type UnknownRatingCodeError struct {
	Code string
}

func (e *UnknownRatingCodeError) Error() string {
	return fmt.Sprintf("unknown rating code %q", e.Code)
}

func (e *UnknownRatingCodeError) Is(target error) bool {
	return target == ErrUnknownRatingCode
}

// PriceParseError reports a price that is not a positive decimal amount.
type PriceParseError struct {
	Text string
	Err  error
}

func (e *PriceParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("price parse %q", e.Text)
	}
	return fmt.Sprintf("price parse %q: %v", e.Text, e.Err)
}

func (e *PriceParseError) Unwrap() error {
	return e.Err
}

func (e *PriceParseError) Is(target error) bool {
	return target == ErrPriceParse
}

// MissingIdentifierError reports a detail page without a UPC in its product table.
type MissingIdentifierError struct {
	URL string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("missing identifier on %s", e.URL)
}

func (e *MissingIdentifierError) Is(target error) bool {
	return target == ErrMissingIdentifier
}

// ErrorTypeLabel maps an extraction error to a short label for logs and metrics.
func ErrorTypeLabel(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, ErrUnknownRatingCode):
		return "unknown_rating"
	case errors.Is(err, ErrPriceParse):
		return "price_parse"
	case errors.Is(err, ErrMissingIdentifier):
		return "missing_identifier"
	default:
		return "other"
	}
}
