package operation

import (
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Resolve finds the host, port and TXT record of a service instance.
type Resolve struct {
	subordinate
	handlers eventHandlers[ResolveEvent]
}

func NewResolve(instanceName, serviceType, domain string, interfaceIndex uint32, opts ...Option) (*Resolve, error) {
	msg, err := protocol.NewResolveRequest(instanceName, serviceType, domain, interfaceIndex)
	if err != nil {
		return nil, err
	}
	r := &Resolve{}
	r.init(msg, buildOptions(opts), r.Cancel)
	return r, nil
}

// NewResolveDescriptor resolves the instance a browse reported.
func NewResolveDescriptor(d ServiceDescriptor, opts ...Option) (*Resolve, error) {
	return NewResolve(d.InstanceName, d.ServiceType, d.Domain, d.InterfaceIndex, opts...)
}

func (r *Resolve) OnEvent(h EventHandler[ResolveEvent]) {
	r.handlers.add(h)
}

func (r *Resolve) processReply(msg *protocol.Message, moreComing bool) {
	reply, ok := msg.Payload.(*protocol.ResolveReply)
	if !ok {
		r.logger.Debug("Ignoring unexpected reply", "op", msg.OpCode(), "subordinate", r.ID())
		return
	}
	r.handlers.emit(r.token, ResolveEvent{
		FullName:       reply.FullName,
		HostName:       reply.HostName,
		Port:           reply.Port,
		InterfaceIndex: reply.InterfaceIndex,
		TXT:            reply.TXT,
		MoreComing:     moreComing,
	})
}
