package sundaechat

import "errors"

var (
	// ErrInvalidMessage is returned for inbound payloads that fail validation. Nothing is
	// persisted or delivered.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrPersistence is returned when the message log rejects an append. Nothing is delivered.
	ErrPersistence = errors.New("failed to persist message")
	// ErrRegistry is returned when the connection registry cannot be read or written.
	ErrRegistry = errors.New("connection registry unavailable")

	// ErrDeliveryGone means the target connection no longer exists at the gateway.
	ErrDeliveryGone = errors.New("connection gone")
	// ErrDeliveryTransient means a push failed for a reason that may not recur.
	ErrDeliveryTransient = errors.New("delivery failed")
)
