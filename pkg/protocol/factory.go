package protocol

import "fmt"

// newRequestPayload maps request op codes to their typed payloads.
func newRequestPayload(op OpCode) Payload {
	switch op {
	case OpConnectionRequest:
		return &ConnectionRequest{}
	case OpBrowseRequest:
		return &BrowseRequest{}
	case OpResolveRequest:
		return &ResolveRequest{}
	case OpRegisterServiceRequest:
		return &RegisterRequest{}
	case OpAddressInfoRequest:
		return &LookupRequest{}
	default:
		return nil
	}
}

// newReplyPayload maps reply op codes to their typed payloads.
func newReplyPayload(op OpCode) Payload {
	switch op {
	case OpBrowseReply:
		return &BrowseReply{}
	case OpResolveReply:
		return &ResolveReply{}
	case OpRegisterServiceReply:
		return &RegisterReply{}
	case OpAddressInfoReply:
		return &AddressInfoReply{}
	default:
		return nil
	}
}

// DecodeReply decodes a payload received from the daemon. Op codes without a
// typed reply decode to an OpaquePayload.
func DecodeReply(h Header, payload []byte) (*Message, error) {
	return decodeWith(newReplyPayload, h, payload)
}

// DecodeRequest decodes a payload sent to the daemon. Used by test daemons
// and tracing tools.
func DecodeRequest(h Header, payload []byte) (*Message, error) {
	return decodeWith(newRequestPayload, h, payload)
}

func decodeWith(factory func(OpCode) Payload, h Header, payload []byte) (*Message, error) {
	p := factory(h.OpCode)
	if p == nil {
		p = &OpaquePayload{}
	}
	return DecodeInto(h, payload, p)
}

// ParseRequest decodes a complete request frame, header included.
func ParseRequest(frame []byte) (*Message, error) {
	h, off, err := DecodeHeader(frame, 0)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(h, frame[off:])
}

// ParseReply decodes a complete reply frame, header included.
func ParseReply(frame []byte) (*Message, error) {
	h, off, err := DecodeHeader(frame, 0)
	if err != nil {
		return nil, err
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", ErrorIncompatible, h.Version)
	}
	return DecodeReply(h, frame[off:])
}
