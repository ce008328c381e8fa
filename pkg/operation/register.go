package operation

import (
	"github.com/rescp17/dnssd-client/pkg/protocol"
)

// Register advertises a service instance for as long as it executes.
type Register struct {
	subordinate
	handlers eventHandlers[RegisterEvent]
}

func NewRegister(params protocol.RegisterParams, opts ...Option) (*Register, error) {
	msg, err := protocol.NewRegisterRequest(params)
	if err != nil {
		return nil, err
	}
	r := &Register{}
	r.init(msg, buildOptions(opts), r.Cancel)
	return r, nil
}

func (r *Register) OnEvent(h EventHandler[RegisterEvent]) {
	r.handlers.add(h)
}

func (r *Register) processReply(msg *protocol.Message, moreComing bool) {
	reply, ok := msg.Payload.(*protocol.RegisterReply)
	if !ok {
		r.logger.Debug("Ignoring unexpected reply", "op", msg.OpCode(), "subordinate", r.ID())
		return
	}

	ev := RegisterEvent{
		Type: addedOrRemoved(reply.Flags),
		Descriptor: ServiceDescriptor{
			InstanceName:   reply.InstanceName,
			ServiceType:    reply.ServiceType,
			Domain:         reply.Domain,
			InterfaceIndex: reply.InterfaceIndex,
		},
		Error:      reply.Error,
		MoreComing: moreComing,
	}
	if reply.Error != protocol.NoError {
		ev.Type = EventError
	}
	r.handlers.emit(r.token, ev)
}
