package protocol

import (
	"fmt"
	"math"
)

// Payload is the body that follows a header. Subordinate messages carry
// extra leading fields, so both directions are told which form to use.
type Payload interface {
	// OpCode is the op code a header must carry for this payload, or OpNone
	// when the payload accepts any.
	OpCode() OpCode
	MarshalPayload(subordinate bool) ([]byte, error)
	UnmarshalPayload(d *Decoder, subordinate bool) error
}

// ErrorReturnCarrier is implemented by request payloads that can name an
// error return port for the daemon's acknowledgement.
type ErrorReturnCarrier interface {
	SetErrorReturnPort(port uint16)
	ErrorReturnPort() uint16
}

// Message is a header plus its payload.
type Message struct {
	Header  Header
	Payload Payload
}

// NewMessage wraps p in a current-version header carrying p's op code.
func NewMessage(p Payload) (*Message, error) {
	h, err := NewHeader(p.OpCode())
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, Payload: p}, nil
}

func (m *Message) OpCode() OpCode {
	return m.Header.OpCode
}

func (m *Message) IsSubordinate() bool {
	return m.Header.IsSubordinate()
}

func (m *Message) SetSubordinateID(id uint64) {
	m.Header.SubordinateID = id
}

// MarshalBinary encodes the header and payload, setting Header.DataLength
// to the payload size.
func (m *Message) MarshalBinary() ([]byte, error) {
	var payload []byte
	if m.Payload != nil {
		var err error
		payload, err = m.Payload.MarshalPayload(m.IsSubordinate())
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", m.Header.OpCode, err)
		}
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, &ValidationError{Field: "payload", Reason: "exceeds 4 GiB"}
	}
	m.Header.DataLength = uint32(len(payload))
	buf := m.Header.AppendBinary(make([]byte, 0, HeaderLength+len(payload)))
	return append(buf, payload...), nil
}

func (m *Message) String() string {
	return m.Header.String()
}

// DecodeInto decodes payload into p for header h. A zero DataLength yields p
// unchanged without reading payload.
func DecodeInto(h Header, payload []byte, p Payload) (*Message, error) {
	if want := p.OpCode(); want != OpNone && want != h.OpCode {
		return nil, fmt.Errorf("%w: header carries %s, payload is %s", ErrOpCodeMismatch, h.OpCode, want)
	}
	msg := &Message{Header: h, Payload: p}
	if h.DataLength == 0 {
		return msg, nil
	}
	if uint64(len(payload)) < uint64(h.DataLength) {
		return nil, &FramingError{Field: "payload", Need: int(h.DataLength), Have: len(payload)}
	}
	d := NewDecoder(payload[:h.DataLength])
	if err := p.UnmarshalPayload(d, h.IsSubordinate()); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", h.OpCode, err)
	}
	return msg, nil
}

// OpaquePayload holds the raw bytes of a message this client has no typed
// form for. It also serves as the empty payload of cancel requests.
type OpaquePayload struct {
	Data []byte
}

func (p *OpaquePayload) OpCode() OpCode {
	return OpNone
}

func (p *OpaquePayload) MarshalPayload(bool) ([]byte, error) {
	return p.Data, nil
}

func (p *OpaquePayload) UnmarshalPayload(d *Decoder, _ bool) error {
	p.Data = d.Bytes(d.Remaining(), "opaque payload")
	return d.Err()
}
