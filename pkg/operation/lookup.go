package operation

import (
	"net/netip"

	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Lookup resolves a host name to IPv4 and/or IPv6 addresses.
type Lookup struct {
	subordinate
	handlers eventHandlers[LookupEvent]
}

// NewLookup returns a lookup of hostName. With withTimeout the daemon
// reports EventTimeout when no answer arrives in time.
func NewLookup(hostName string, proto protocol.ProtocolFlags, withTimeout bool, interfaceIndex uint32, opts ...Option) (*Lookup, error) {
	msg, err := protocol.NewLookupRequest(hostName, proto, withTimeout, interfaceIndex)
	if err != nil {
		return nil, err
	}
	l := &Lookup{}
	l.init(msg, buildOptions(opts), l.Cancel)
	return l, nil
}

func (l *Lookup) OnEvent(h EventHandler[LookupEvent]) {
	l.handlers.add(h)
}

func (l *Lookup) processReply(msg *protocol.Message, moreComing bool) {
	reply, ok := msg.Payload.(*protocol.AddressInfoReply)
	if !ok {
		l.logger.Debug("Ignoring unexpected reply", "op", msg.OpCode(), "subordinate", l.ID())
		return
	}

	isAddress := reply.RecordType == protocol.RecordA || reply.RecordType == protocol.RecordAAAA
	// Answers of other record types, such as CNAME referrals, carry no
	// address and are consumed without an event.
	if reply.Error == protocol.NoError && !isAddress {
		l.logger.Debug("Skipping non-address answer", "type", reply.RecordType, "host", reply.HostName, "subordinate", l.ID())
		return
	}

	ev := LookupEvent{
		HostName:       reply.HostName,
		RecordType:     reply.RecordType,
		TTL:            reply.TTL,
		InterfaceIndex: reply.InterfaceIndex,
		Error:          reply.Error,
		MoreComing:     moreComing,
	}
	if isAddress && len(reply.RecordData) != 0 {
		if addr, ok := netip.AddrFromSlice(reply.RecordData); ok {
			ev.Addr = addr
		}
	}

	switch reply.Error {
	case protocol.NoError:
		ev.Type = addedOrRemoved(reply.Flags)
	case protocol.ErrorTimeout:
		ev.Type = EventTimeout
	case protocol.ErrorNoSuchRecord:
		ev.Type = EventNoSuchRecord
	default:
		ev.Type = EventError
	}
	l.handlers.emit(l.token, ev)
}
