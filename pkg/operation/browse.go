package operation

import (
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Browse discovers instances of a service type.
type Browse struct {
	subordinate
	handlers eventHandlers[BrowseEvent]
}

// NewBrowse returns a browse for serviceType in domain; an empty domain
// browses the daemon's default domains.
func NewBrowse(serviceType, domain string, interfaceIndex uint32, opts ...Option) (*Browse, error) {
	msg, err := protocol.NewBrowseRequest(serviceType, domain, interfaceIndex)
	if err != nil {
		return nil, err
	}
	b := &Browse{}
	b.init(msg, buildOptions(opts), b.Cancel)
	return b, nil
}

// OnEvent registers h for browse results.
func (b *Browse) OnEvent(h EventHandler[BrowseEvent]) {
	b.handlers.add(h)
}

func (b *Browse) processReply(msg *protocol.Message, moreComing bool) {
	r, ok := msg.Payload.(*protocol.BrowseReply)
	if !ok {
		b.logger.Debug("Ignoring unexpected reply", "op", msg.OpCode(), "subordinate", b.ID())
		return
	}
	b.handlers.emit(b.token, BrowseEvent{
		Type: addedOrRemoved(r.Flags),
		Descriptor: ServiceDescriptor{
			InstanceName:   r.InstanceName,
			ServiceType:    r.ServiceType,
			Domain:         r.Domain,
			InterfaceIndex: r.InterfaceIndex,
		},
		MoreComing: moreComing,
	})
}
