package broker

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a connected client.
	ErrNotConnected = errors.New("client not connected")
	// ErrConnectFailed wraps the cause of a failed connection attempt.
	ErrConnectFailed = errors.New("connection failed")
	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("invalid QoS")
	// ErrInvalidTopic is returned for an empty topic or one carrying wildcards.
	ErrInvalidTopic = errors.New("invalid topic name")
	// ErrInvalidFilter is returned for a malformed topic filter.
	ErrInvalidFilter = errors.New("invalid topic filter")
	// ErrDuplicateClientID is returned when a client id is already in use.
	ErrDuplicateClientID = errors.New("client id already in use")
	// ErrUnknownProtocol is returned when no transport exists for a protocol.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrSubscriptionRejected is returned when the broker refuses a filter.
	ErrSubscriptionRejected = errors.New("subscription rejected")
)
