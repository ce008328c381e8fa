package protocol

import (
	"math"
	"strings"
)

// RequestBase carries the error return port that leads every subordinate
// request payload. Port 0 means unset.
type RequestBase struct {
	ReturnPort uint16
}

func (r *RequestBase) SetErrorReturnPort(port uint16) {
	r.ReturnPort = port
}

func (r *RequestBase) ErrorReturnPort() uint16 {
	return r.ReturnPort
}

func (r *RequestBase) encodeBase(e *Encoder, subordinate bool) error {
	if !subordinate {
		return nil
	}
	if r.ReturnPort == 0 {
		return ErrNoErrorReturnPort
	}
	e.PutUint16(r.ReturnPort)
	return nil
}

func (r *RequestBase) decodeBase(d *Decoder, subordinate bool) {
	if subordinate {
		r.ReturnPort = d.Uint16("error return port")
	}
}

func checkString(field, s string, required bool) error {
	if required && s == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if strings.IndexByte(s, 0) >= 0 {
		return &ValidationError{Field: field, Reason: "must not contain NUL"}
	}
	return nil
}

func checkAll(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnectionRequest opens the primary connection.
type ConnectionRequest struct {
	RequestBase
}

// NewConnectionRequest returns the handshake sent when a transport starts.
func NewConnectionRequest() *Message {
	return &Message{
		Header:  Header{Version: CurrentVersion, OpCode: OpConnectionRequest},
		Payload: &ConnectionRequest{},
	}
}

func (r *ConnectionRequest) OpCode() OpCode {
	return OpConnectionRequest
}

func (r *ConnectionRequest) MarshalPayload(subordinate bool) ([]byte, error) {
	e := NewEncoder(nil)
	if err := r.encodeBase(e, subordinate); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func (r *ConnectionRequest) UnmarshalPayload(d *Decoder, subordinate bool) error {
	r.decodeBase(d, subordinate)
	return d.Err()
}

// NewCancelRequest asks the daemon to stop the subordinate operation id.
// The payload is empty.
func NewCancelRequest(id uint64) *Message {
	return &Message{
		Header:  Header{Version: CurrentVersion, OpCode: OpCancelRequest, SubordinateID: id},
		Payload: &OpaquePayload{},
	}
}

// BrowseRequest asks for instances of a service type.
type BrowseRequest struct {
	RequestBase
	Flags          ServiceFlags
	InterfaceIndex uint32
	ServiceType    string
	Domain         string
}

// NewBrowseRequest builds a browse for serviceType, e.g. "_http._tcp".
// An empty domain browses the daemon's default domains.
func NewBrowseRequest(serviceType, domain string, interfaceIndex uint32) (*Message, error) {
	r := &BrowseRequest{InterfaceIndex: interfaceIndex, ServiceType: serviceType, Domain: domain}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(r)
}

func (r *BrowseRequest) Validate() error {
	return checkAll(
		checkString("service type", r.ServiceType, true),
		checkString("domain", r.Domain, false),
	)
}

func (r *BrowseRequest) OpCode() OpCode {
	return OpBrowseRequest
}

func (r *BrowseRequest) MarshalPayload(subordinate bool) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e := NewEncoder(nil)
	if err := r.encodeBase(e, subordinate); err != nil {
		return nil, err
	}
	e.PutUint32(uint32(r.Flags))
	e.PutUint32(r.InterfaceIndex)
	e.PutString(r.ServiceType)
	e.PutString(r.Domain)
	return e.Bytes(), nil
}

func (r *BrowseRequest) UnmarshalPayload(d *Decoder, subordinate bool) error {
	r.decodeBase(d, subordinate)
	r.Flags = ServiceFlags(d.Uint32("flags"))
	r.InterfaceIndex = d.Uint32("interface index")
	r.ServiceType = d.CString("service type")
	r.Domain = d.CString("domain")
	return d.Err()
}

// ResolveRequest asks for the host, port and TXT of a named instance.
type ResolveRequest struct {
	RequestBase
	Flags          ServiceFlags
	InterfaceIndex uint32
	InstanceName   string
	ServiceType    string
	Domain         string
}

func NewResolveRequest(instanceName, serviceType, domain string, interfaceIndex uint32) (*Message, error) {
	r := &ResolveRequest{
		InterfaceIndex: interfaceIndex,
		InstanceName:   instanceName,
		ServiceType:    serviceType,
		Domain:         domain,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(r)
}

func (r *ResolveRequest) Validate() error {
	return checkAll(
		checkString("instance name", r.InstanceName, true),
		checkString("service type", r.ServiceType, true),
		checkString("domain", r.Domain, true),
	)
}

func (r *ResolveRequest) OpCode() OpCode {
	return OpResolveRequest
}

func (r *ResolveRequest) MarshalPayload(subordinate bool) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e := NewEncoder(nil)
	if err := r.encodeBase(e, subordinate); err != nil {
		return nil, err
	}
	e.PutUint32(uint32(r.Flags))
	e.PutUint32(r.InterfaceIndex)
	e.PutString(r.InstanceName)
	e.PutString(r.ServiceType)
	e.PutString(r.Domain)
	return e.Bytes(), nil
}

func (r *ResolveRequest) UnmarshalPayload(d *Decoder, subordinate bool) error {
	r.decodeBase(d, subordinate)
	r.Flags = ServiceFlags(d.Uint32("flags"))
	r.InterfaceIndex = d.Uint32("interface index")
	r.InstanceName = d.CString("instance name")
	r.ServiceType = d.CString("service type")
	r.Domain = d.CString("domain")
	return d.Err()
}

// RegisterParams describes a service to advertise. Empty InstanceName,
// Domain and HostName let the daemon pick defaults.
type RegisterParams struct {
	InstanceName   string
	ServiceType    string
	Domain         string
	HostName       string
	Port           uint16
	TXT            []byte
	Flags          ServiceFlags
	InterfaceIndex uint32
}

// RegisterRequest advertises a service instance.
type RegisterRequest struct {
	RequestBase
	RegisterParams
}

func NewRegisterRequest(params RegisterParams) (*Message, error) {
	r := &RegisterRequest{RegisterParams: params}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(r)
}

func (r *RegisterRequest) Validate() error {
	if len(r.TXT) > math.MaxUint16 {
		return &ValidationError{Field: "txt record", Reason: "exceeds 65535 bytes"}
	}
	return checkAll(
		checkString("instance name", r.InstanceName, false),
		checkString("service type", r.ServiceType, true),
		checkString("domain", r.Domain, false),
		checkString("host name", r.HostName, false),
	)
}

func (r *RegisterRequest) OpCode() OpCode {
	return OpRegisterServiceRequest
}

func (r *RegisterRequest) MarshalPayload(subordinate bool) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e := NewEncoder(nil)
	if err := r.encodeBase(e, subordinate); err != nil {
		return nil, err
	}
	e.PutUint32(uint32(r.Flags))
	e.PutUint32(r.InterfaceIndex)
	e.PutString(r.InstanceName)
	e.PutString(r.ServiceType)
	e.PutString(r.Domain)
	e.PutString(r.HostName)
	e.PutUint16(r.Port)
	e.PutBlob16(r.TXT)
	return e.Bytes(), nil
}

func (r *RegisterRequest) UnmarshalPayload(d *Decoder, subordinate bool) error {
	r.decodeBase(d, subordinate)
	r.Flags = ServiceFlags(d.Uint32("flags"))
	r.InterfaceIndex = d.Uint32("interface index")
	r.InstanceName = d.CString("instance name")
	r.ServiceType = d.CString("service type")
	r.Domain = d.CString("domain")
	r.HostName = d.CString("host name")
	r.Port = d.Uint16("port")
	r.TXT = d.Blob16("txt record")
	return d.Err()
}

// LookupRequest resolves a host name to addresses.
type LookupRequest struct {
	RequestBase
	Flags          ServiceFlags
	InterfaceIndex uint32
	Protocol       ProtocolFlags
	HostName       string
}

// NewLookupRequest always asks for intermediate results; withTimeout adds
// the daemon-side timeout flag.
func NewLookupRequest(hostName string, protocol ProtocolFlags, withTimeout bool, interfaceIndex uint32) (*Message, error) {
	flags := FlagReturnIntermediates
	if withTimeout {
		flags |= FlagTimeout
	}
	r := &LookupRequest{
		Flags:          flags,
		InterfaceIndex: interfaceIndex,
		Protocol:       protocol,
		HostName:       hostName,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(r)
}

func (r *LookupRequest) Validate() error {
	if !r.Protocol.HasAddressFamily() {
		return &ValidationError{Field: "protocol", Reason: "must include IPv4 or IPv6"}
	}
	return checkString("host name", r.HostName, true)
}

func (r *LookupRequest) OpCode() OpCode {
	return OpAddressInfoRequest
}

func (r *LookupRequest) MarshalPayload(subordinate bool) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	e := NewEncoder(nil)
	if err := r.encodeBase(e, subordinate); err != nil {
		return nil, err
	}
	e.PutUint32(uint32(r.Flags))
	e.PutUint32(r.InterfaceIndex)
	e.PutUint32(uint32(r.Protocol))
	e.PutString(r.HostName)
	return e.Bytes(), nil
}

func (r *LookupRequest) UnmarshalPayload(d *Decoder, subordinate bool) error {
	r.decodeBase(d, subordinate)
	r.Flags = ServiceFlags(d.Uint32("flags"))
	r.InterfaceIndex = d.Uint32("interface index")
	r.Protocol = ProtocolFlags(d.Uint32("protocol"))
	r.HostName = d.CString("host name")
	return d.Err()
}
