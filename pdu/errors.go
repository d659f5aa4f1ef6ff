package pdu

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLong is matched by a TooLongError.
	ErrTooLong = errors.New("pdu: text too long")

	// ErrTruncated is matched by a TruncatedError.
	ErrTruncated = errors.New("pdu: truncated")

	// ErrInvalidHex is returned when a PDU or raw UCS-2 string is not
	// well-formed hexadecimal.
	ErrInvalidHex = errors.New("pdu: invalid hex")

	// ErrUnsupported is returned for PDUs this package does not decode,
	// such as status reports or compressed user data.
	ErrUnsupported = errors.New("pdu: unsupported")
)

// TooLongError reports outbound text that does not fit in a single
// SMS-SUBMIT. Text is never truncated silently.
type TooLongError struct {
	Limit  int
	Actual int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("pdu: text is too long: a maximum of %d septets is allowed, %d were passed", e.Limit, e.Actual)
}

func (e *TooLongError) Is(target error) bool {
	return target == ErrTooLong
}

// TruncatedError reports a PDU that ends before the named field.
type TruncatedError struct {
	Field string
	Want  int
	Have  int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("pdu: truncated %s: need %d octets, have %d", e.Field, e.Want, e.Have)
}

func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}
