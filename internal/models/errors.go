package models

import "errors"

var (
	// ErrStoreUnavailable means the token registry could not be read or written.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrMalformedEvent means a broker message could not be decoded or lacks required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrChannelSend means a push or mail transport rejected a notification.
	ErrChannelSend = errors.New("channel send failed")
	// ErrNotFound means no registry record exists for the employee.
	ErrNotFound = errors.New("employee not found")
)
