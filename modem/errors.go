package modem

import (
	"errors"

	"i4.energy/across/atlink/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Dialer returned no
	// Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrMalformedResponse is returned when a successful response does not
	// carry the content the query expects.
	ErrMalformedResponse = at.ErrMalformedResponse

	// ErrMalformedBatch is returned by ListSMS when the listing does not
	// consist of metadata and data line pairs.
	ErrMalformedBatch = errors.New("malformed message batch")

	// ErrMessageNotFound is returned by ReadSMS for an empty storage slot.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnknownProfile is returned by LookupProfile for an unregistered
	// model.
	ErrUnknownProfile = errors.New("unknown modem profile")
)
