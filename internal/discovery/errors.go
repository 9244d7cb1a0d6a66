package discovery

import "errors"

var (
	// ErrNoAddress is returned for an mDNS service that advertised no usable address.
	ErrNoAddress = errors.New("discovery: service has no address")

	// ErrSourceClosed is returned by Run after Close.
	ErrSourceClosed = errors.New("discovery: source closed")
)
