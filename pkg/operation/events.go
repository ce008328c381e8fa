package operation

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/txtrecord"
)

const (
	// InterfaceAny lets the daemon use every interface.
	InterfaceAny uint32 = 0
	// InterfaceLocalOnly restricts an operation to the local machine.
	InterfaceLocalOnly uint32 = 0xFFFFFFFF
)

// EventType classifies an operation event.
type EventType int

const (
	EventAdded EventType = iota
	EventRemoved
	EventError
	EventTimeout
	EventNoSuchRecord
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventError:
		return "error"
	case EventTimeout:
		return "timeout"
	case EventNoSuchRecord:
		return "no_such_record"
	default:
		return "unknown"
	}
}

func addedOrRemoved(flags protocol.ServiceFlags) EventType {
	if flags.Has(protocol.FlagAdd) {
		return EventAdded
	}
	return EventRemoved
}

// ServiceDescriptor identifies a service instance. Descriptors compare
// equal when all four fields match.
type ServiceDescriptor struct {
	InstanceName   string
	ServiceType    string
	Domain         string
	InterfaceIndex uint32
}

func (d ServiceDescriptor) String() string {
	return fmt.Sprintf("Name=[%s], Type=[%s], Domain=[%s], Interface=[%d]",
		d.InstanceName, d.ServiceType, d.Domain, d.InterfaceIndex)
}

type BrowseEvent struct {
	Type       EventType
	Descriptor ServiceDescriptor
	MoreComing bool
}

// ResolveEvent carries the target of a resolved instance. TXT holds the raw
// TXT rdata and is nil when the instance has none.
type ResolveEvent struct {
	FullName       string
	HostName       string
	Port           uint16
	InterfaceIndex uint32
	TXT            []byte
	MoreComing     bool
}

// Records parses TXT into individual strings.
func (e ResolveEvent) Records() ([]txtrecord.Record, error) {
	return txtrecord.Unpack(e.TXT)
}

func (e ResolveEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Full Name=[%s], Host=[%s], Port=[%d], Interface=[%d]\n",
		e.FullName, e.HostName, e.Port, e.InterfaceIndex)
	records, err := e.Records()
	if err != nil {
		fmt.Fprintf(&b, "TXT Records: %v\n", err)
		return b.String()
	}
	if len(records) > 0 {
		b.WriteString("TXT Records:\n")
		for _, r := range records {
			fmt.Fprintf(&b, "[%s]\n", r)
		}
	}
	return b.String()
}

// RegisterEvent reports a registration result. Error is set only for
// EventError.
type RegisterEvent struct {
	Type       EventType
	Descriptor ServiceDescriptor
	Error      protocol.ServiceError
	MoreComing bool
}

// LookupEvent reports one address lookup result. Addr is valid only for A
// and AAAA answers that carry data.
type LookupEvent struct {
	Type           EventType
	HostName       string
	Addr           netip.Addr
	RecordType     protocol.RecordType
	TTL            uint32
	InterfaceIndex uint32
	Error          protocol.ServiceError
	MoreComing     bool
}

// EventHandler receives the events of one operation.
type EventHandler[E any] func(tok *Token, ev E)

type eventHandlers[E any] struct {
	mu   sync.Mutex
	list []EventHandler[E]
}

func (h *eventHandlers[E]) add(fn EventHandler[E]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.list = append(h.list, fn)
}

func (h *eventHandlers[E]) emit(tok *Token, ev E) {
	h.mu.Lock()
	list := h.list
	h.mu.Unlock()
	for _, fn := range list {
		fn(tok, ev)
	}
}
