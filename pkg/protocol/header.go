package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLength is the fixed size of every message header on the wire.
	HeaderLength = 28
	// CurrentVersion is the only protocol version this client speaks.
	CurrentVersion uint32 = 1
)

// Header precedes every message. All fields are big-endian on the wire in
// the order declared here.
type Header struct {
	Version       uint32
	DataLength    uint32
	Flags         ServiceFlags
	OpCode        OpCode
	SubordinateID uint64
	RegIndex      uint32
}

// NewHeader returns a current-version header for op.
func NewHeader(op OpCode) (Header, error) {
	if op == OpNone {
		return Header{}, ErrInvalidOpCode
	}
	return Header{Version: CurrentVersion, OpCode: op}, nil
}

// AppendBinary appends the 28-byte encoding of h to b.
func (h Header) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, h.Version)
	b = binary.BigEndian.AppendUint32(b, h.DataLength)
	b = binary.BigEndian.AppendUint32(b, uint32(h.Flags))
	b = binary.BigEndian.AppendUint32(b, uint32(h.OpCode))
	b = binary.BigEndian.AppendUint64(b, h.SubordinateID)
	b = binary.BigEndian.AppendUint32(b, h.RegIndex)
	return b
}

func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderLength)), nil
}

// DecodeHeader reads a header from buf starting at offset and returns the
// offset just past it.
func DecodeHeader(buf []byte, offset int) (Header, int, error) {
	if offset < 0 || len(buf)-offset < HeaderLength {
		have := len(buf) - offset
		if have < 0 {
			have = 0
		}
		return Header{}, offset, &FramingError{Field: "header", Need: HeaderLength, Have: have}
	}
	b := buf[offset : offset+HeaderLength]
	h := Header{
		Version:       binary.BigEndian.Uint32(b[0:4]),
		DataLength:    binary.BigEndian.Uint32(b[4:8]),
		Flags:         ServiceFlags(binary.BigEndian.Uint32(b[8:12])),
		OpCode:        OpCode(binary.BigEndian.Uint32(b[12:16])),
		SubordinateID: binary.BigEndian.Uint64(b[16:24]),
		RegIndex:      binary.BigEndian.Uint32(b[24:28]),
	}
	return h, offset + HeaderLength, nil
}

// IsSubordinate reports whether the message belongs to a subordinate operation.
func (h Header) IsSubordinate() bool {
	return h.SubordinateID != 0
}

func (h Header) String() string {
	return fmt.Sprintf("%s v%d len=%d sub=%d flags=%s", h.OpCode, h.Version, h.DataLength, h.SubordinateID, h.Flags)
}
