package protocol

import "math"

// ReplyBase leads every reply payload.
type ReplyBase struct {
	Flags          ServiceFlags
	InterfaceIndex uint32
	Error          ServiceError
}

// Reply is implemented by every typed reply payload.
type Reply interface {
	Payload
	Base() ReplyBase
}

func (b ReplyBase) Base() ReplyBase {
	return b
}

func (b ReplyBase) encode(e *Encoder) {
	e.PutUint32(uint32(b.Flags))
	e.PutUint32(b.InterfaceIndex)
	e.PutUint32(uint32(b.Error))
}

func (b *ReplyBase) decode(d *Decoder) {
	b.Flags = ServiceFlags(d.Uint32("flags"))
	b.InterfaceIndex = d.Uint32("interface index")
	b.Error = ServiceError(int32(d.Uint32("error")))
}

func newReply(p Reply, subordinateID uint64) *Message {
	return &Message{
		Header:  Header{Version: CurrentVersion, OpCode: p.OpCode(), SubordinateID: subordinateID},
		Payload: p,
	}
}

// BrowseReply reports an instance appearing or disappearing.
type BrowseReply struct {
	ReplyBase
	InstanceName string
	ServiceType  string
	Domain       string
}

func NewBrowseReply(subordinateID uint64, r BrowseReply) *Message {
	return newReply(&r, subordinateID)
}

func (r *BrowseReply) OpCode() OpCode {
	return OpBrowseReply
}

func (r *BrowseReply) MarshalPayload(bool) ([]byte, error) {
	e := NewEncoder(nil)
	r.encode(e)
	e.PutString(r.InstanceName)
	e.PutString(r.ServiceType)
	e.PutString(r.Domain)
	return e.Bytes(), nil
}

func (r *BrowseReply) UnmarshalPayload(d *Decoder, _ bool) error {
	r.decode(d)
	r.InstanceName = d.CString("instance name")
	r.ServiceType = d.CString("service type")
	r.Domain = d.CString("domain")
	return d.Err()
}

// RegisterReply reports the name the daemon registered, or a registration error.
type RegisterReply struct {
	ReplyBase
	InstanceName string
	ServiceType  string
	Domain       string
}

func NewRegisterReply(subordinateID uint64, r RegisterReply) *Message {
	return newReply(&r, subordinateID)
}

func (r *RegisterReply) OpCode() OpCode {
	return OpRegisterServiceReply
}

func (r *RegisterReply) MarshalPayload(bool) ([]byte, error) {
	e := NewEncoder(nil)
	r.encode(e)
	e.PutString(r.InstanceName)
	e.PutString(r.ServiceType)
	e.PutString(r.Domain)
	return e.Bytes(), nil
}

func (r *RegisterReply) UnmarshalPayload(d *Decoder, _ bool) error {
	r.decode(d)
	r.InstanceName = d.CString("instance name")
	r.ServiceType = d.CString("service type")
	r.Domain = d.CString("domain")
	return d.Err()
}

// ResolveReply carries the target of a resolved instance.
type ResolveReply struct {
	ReplyBase
	FullName string
	HostName string
	Port     uint16
	TXT      []byte
}

func NewResolveReply(subordinateID uint64, r ResolveReply) *Message {
	return newReply(&r, subordinateID)
}

func (r *ResolveReply) OpCode() OpCode {
	return OpResolveReply
}

func (r *ResolveReply) MarshalPayload(bool) ([]byte, error) {
	if len(r.TXT) > math.MaxUint16 {
		return nil, &ValidationError{Field: "txt record", Reason: "exceeds 65535 bytes"}
	}
	e := NewEncoder(nil)
	r.encode(e)
	e.PutString(r.FullName)
	e.PutString(r.HostName)
	e.PutUint16(r.Port)
	e.PutBlob16(r.TXT)
	return e.Bytes(), nil
}

// UnmarshalPayload treats a TXT length of 0 or 1 as no TXT record; the single
// byte of a one-byte record is skipped.
func (r *ResolveReply) UnmarshalPayload(d *Decoder, _ bool) error {
	r.decode(d)
	r.FullName = d.CString("full name")
	r.HostName = d.CString("host name")
	r.Port = d.Uint16("port")
	n := int(d.Uint16("txt length"))
	if n > 1 {
		r.TXT = d.Bytes(n, "txt record")
	} else {
		d.Skip(n, "txt record")
		r.TXT = nil
	}
	return d.Err()
}

// AddressInfoReply carries one resource record answering a lookup.
type AddressInfoReply struct {
	ReplyBase
	HostName    string
	RecordType  RecordType
	RecordClass uint16
	RecordData  []byte
	TTL         uint32
}

func NewAddressInfoReply(subordinateID uint64, r AddressInfoReply) *Message {
	return newReply(&r, subordinateID)
}

func (r *AddressInfoReply) OpCode() OpCode {
	return OpAddressInfoReply
}

func (r *AddressInfoReply) MarshalPayload(bool) ([]byte, error) {
	if len(r.RecordData) > math.MaxUint16 {
		return nil, &ValidationError{Field: "record data", Reason: "exceeds 65535 bytes"}
	}
	e := NewEncoder(nil)
	r.encode(e)
	e.PutString(r.HostName)
	e.PutUint16(uint16(r.RecordType))
	e.PutUint16(r.RecordClass)
	e.PutBlob16(r.RecordData)
	e.PutUint32(r.TTL)
	return e.Bytes(), nil
}

func (r *AddressInfoReply) UnmarshalPayload(d *Decoder, _ bool) error {
	r.decode(d)
	r.HostName = d.CString("host name")
	r.RecordType = RecordType(d.Uint16("record type"))
	r.RecordClass = d.Uint16("record class")
	r.RecordData = d.Blob16("record data")
	r.TTL = d.Uint32("ttl")
	return d.Err()
}
