package machine

import "errors"

var (
	// ErrValidation is returned for commands with missing or malformed fields.
	// They never reach the hardware.
	ErrValidation = errors.New("validation error")

	// ErrTransport is returned when the channel fails to send or receive.
	ErrTransport = errors.New("transport error")

	// ErrTimeout is returned when no matching completion arrives before the deadline.
	ErrTimeout = errors.New("timeout")

	// ErrHardware is returned when the microcontroller reports an error.
	ErrHardware = errors.New("hardware error")

	// ErrUnknownCommand is returned when decoding a command with an unrecognized name.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMalformed is returned when a request line can't be decoded.
	ErrMalformed = errors.New("malformed request")
)
