package relation

import "errors"

var (
	// ErrConfiguration marks a bad or missing relation argument.
	ErrConfiguration = errors.New("relation: configuration error")
	// ErrAuthentication marks missing or rejected service credentials.
	ErrAuthentication = errors.New("relation: authentication error")
	// ErrTransport marks a network or service failure while fetching.
	ErrTransport = errors.New("relation: transport error")
	// ErrProtocolViolation marks a host calling the cursor outside its contract.
	ErrProtocolViolation = errors.New("relation: protocol violation")
)
