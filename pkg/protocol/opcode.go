package protocol

import "fmt"

// OpCode identifies the request or reply kind carried by a message.
type OpCode uint32

const (
	// OpNone is never valid on the wire.
	OpNone OpCode = iota
	OpConnectionRequest
	OpRegisterRecordRequest
	OpRemoveRecordRequest
	OpEnumerationRequest
	OpRegisterServiceRequest
	OpBrowseRequest
	OpResolveRequest
	OpQueryRequest
	OpReconfirmRecordRequest
	OpAddRecordRequest
	OpUpdateRecordRequest
	OpSetDomainRequest
	OpGetPropertyRequest
	OpPortMappingRequest
	OpAddressInfoRequest
	OpSendBPF
	OpGetPIDRequest
	OpReleaseRequest
	OpConnectionDelegateRequest
)

const (
	OpCancelRequest OpCode = 63
)

const (
	OpEnumerationReply OpCode = iota + 64
	OpRegisterServiceReply
	OpBrowseReply
	OpResolveReply
	OpQueryReply
	OpRegisterRecordReply
	OpGetPropertyReply
	OpPortMappingReply
	OpAddressInfoReply
)

var opCodeNames = map[OpCode]string{
	OpNone:                      "None",
	OpConnectionRequest:         "ConnectionRequest",
	OpRegisterRecordRequest:     "RegisterRecordRequest",
	OpRemoveRecordRequest:       "RemoveRecordRequest",
	OpEnumerationRequest:        "EnumerationRequest",
	OpRegisterServiceRequest:    "RegisterServiceRequest",
	OpBrowseRequest:             "BrowseRequest",
	OpResolveRequest:            "ResolveRequest",
	OpQueryRequest:              "QueryRequest",
	OpReconfirmRecordRequest:    "ReconfirmRecordRequest",
	OpAddRecordRequest:          "AddRecordRequest",
	OpUpdateRecordRequest:       "UpdateRecordRequest",
	OpSetDomainRequest:          "SetDomainRequest",
	OpGetPropertyRequest:        "GetPropertyRequest",
	OpPortMappingRequest:        "PortMappingRequest",
	OpAddressInfoRequest:        "AddressInfoRequest",
	OpSendBPF:                   "SendBPF",
	OpGetPIDRequest:             "GetPIDRequest",
	OpReleaseRequest:            "ReleaseRequest",
	OpConnectionDelegateRequest: "ConnectionDelegateRequest",
	OpCancelRequest:             "CancelRequest",
	OpEnumerationReply:          "EnumerationReply",
	OpRegisterServiceReply:      "RegisterServiceReply",
	OpBrowseReply:               "BrowseReply",
	OpResolveReply:              "ResolveReply",
	OpQueryReply:                "QueryReply",
	OpRegisterRecordReply:       "RegisterRecordReply",
	OpGetPropertyReply:          "GetPropertyReply",
	OpPortMappingReply:          "PortMappingReply",
	OpAddressInfoReply:          "AddressInfoReply",
}

// String returns the symbolic name of the op code.
func (op OpCode) String() string {
	if name, ok := opCodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(%d)", uint32(op))
}

// IsReply reports whether op is one of the daemon's reply codes.
func (op OpCode) IsReply() bool {
	return op >= OpEnumerationReply
}
