package appevents

import "github.com/rescp17/dnssd-client/pkg/discovery"

// AppEvent is a marker interface for events sent from the TUI to the App's logic controller.
// It uses an unexported method to ensure that only types from this package (by embedding Event)
// can satisfy the interface.
type AppEvent interface {
	isAppEvent()
}

// Event is a struct that can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the App's logic controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is a base struct that can be embedded in other types to implement the AppUIMessage interface.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// --- App Events (from TUI to App) ---

// SelectTypeEvent starts discovery of the instances of ServiceType.
type SelectTypeEvent struct {
	Event
	ServiceType string
}

// BackEvent stops instance discovery and returns to the type list.
type BackEvent struct {
	Event
}

// --- UI Messages (from App to TUI) ---

// TypesMsg lists every service type advertised in the browsed domain.
type TypesMsg struct {
	UIMessage
	Types []string
}

// ServicesMsg is a snapshot of the instances of ServiceType.
type ServicesMsg struct {
	UIMessage
	ServiceType string
	Services    []discovery.ServiceInfo
}

type AppErrorMsg struct {
	UIMessage
	Err error
}

var (
	_ AppEvent     = SelectTypeEvent{}
	_ AppEvent     = BackEvent{}
	_ AppUIMessage = TypesMsg{}
	_ AppUIMessage = ServicesMsg{}
	_ AppUIMessage = AppErrorMsg{}
)
