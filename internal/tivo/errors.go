package tivo

import "errors"

// Domain-specific errors for the DVR connection.
var (
	// ErrConnectionFailed is returned when the DVR cannot be reached.
	ErrConnectionFailed = errors.New("tivo: connection failed")

	// ErrNotConnected is returned for commands after the connection ended.
	ErrNotConnected = errors.New("tivo: not connected")

	// ErrCommandFailed is returned when a command could not be written.
	ErrCommandFailed = errors.New("tivo: command failed")

	// ErrInvalidChannel is returned for channel requests with a non-positive channel.
	ErrInvalidChannel = errors.New("tivo: invalid channel request")
)
