package transport

import (
	"errors"
	"fmt"

	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// ClosedReason says why a transport stopped.
type ClosedReason int

const (
	ReasonNone ClosedReason = iota
	ReasonFaulted
	ReasonCanceled
	ReasonRemoteEndDisconnected
	ReasonIncompatible
)

func (r ClosedReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFaulted:
		return "faulted"
	case ReasonCanceled:
		return "canceled"
	case ReasonRemoteEndDisconnected:
		return "remote_end_disconnected"
	case ReasonIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned for writes on a transport whose stream is closed.
	ErrNotConnected = fmt.Errorf("transport not connected: %w", protocol.ErrorNotConnected)
	// ErrNoErrorReturn is returned when a request asks for a separate error
	// connection but the transport cannot open one.
	ErrNoErrorReturn = errors.New("transport has no error return listener")
	// ErrMainStreamBusy is returned when a status would be read from the main
	// stream while the receive loop owns it.
	ErrMainStreamBusy = errors.New("main stream is owned by the receive loop")
)

func serviceNotRunning(op string, err error) error {
	return fmt.Errorf("%s: %w (%w)", op, protocol.ErrorServiceNotRunning, err)
}
