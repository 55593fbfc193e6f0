package broker

import "errors"

// Sentinel errors for broker operations. Check with errors.Is.
var (
	// ErrCredentialsMissing is returned when the connection is constructed
	// without broker credentials. This is a configuration error and is
	// never retried.
	ErrCredentialsMissing = errors.New("broker: credentials missing")

	// ErrConnectTimeout is returned when the broker does not acknowledge
	// a connect within the connect timeout.
	ErrConnectTimeout = errors.New("broker: connect timeout")

	// ErrConnectInFlight is returned when a connect attempt was already in
	// progress and did not finish within the bounded wait.
	ErrConnectInFlight = errors.New("broker: connect already in progress")

	// ErrClosed is returned for any operation on a connection that has
	// been explicitly shut down. Closed is terminal.
	ErrClosed = errors.New("broker: connection closed")

	// ErrNotConnected is returned by subscribe/unsubscribe when no session
	// could be established.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrSubscribeFailed wraps broker-side subscribe failures.
	ErrSubscribeFailed = errors.New("broker: subscribe failed")

	// ErrUnsubscribeFailed wraps broker-side unsubscribe failures.
	ErrUnsubscribeFailed = errors.New("broker: unsubscribe failed")
)
