package core

import "errors"

// Frame is a raw signaling payload (one encoded message).
type Frame []byte

var ErrBackpressure = errors.New("signal connection backpressure")

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Receive yields inbound frames until the connection is closed.
	Receive() <-chan Frame
	Close()
}

// StatusNotifier is implemented by connections able to report transport
// availability. The callback receives false when the transport goes away
// and true once it is usable again.
type StatusNotifier interface {
	OnStatus(func(up bool))
}
