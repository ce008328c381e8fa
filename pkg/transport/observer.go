package transport

import (
	"time"

	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Observer receives transport events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	FrameSent(op protocol.OpCode, size int)
	FrameReceived(op protocol.OpCode, size int)
	Acknowledged(op protocol.OpCode, err error, elapsed time.Duration)
	Closed(reason ClosedReason)
}

type nopObserver struct{}

func (nopObserver) FrameSent(protocol.OpCode, int) {}
func (nopObserver) FrameReceived(protocol.OpCode, int) {}
func (nopObserver) Acknowledged(protocol.OpCode, error, time.Duration) {}
func (nopObserver) Closed(ClosedReason) {}
