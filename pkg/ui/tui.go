package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/dnssd-client/internal/app_events"
	"github.com/rescp17/dnssd-client/internal/style"
	"github.com/rescp17/dnssd-client/pkg/discovery"
)

// AppController defines the contract between the UI and the backend application logic.
type AppController interface {
	// Run starts the backend services and the event loop.
	Run(ctx context.Context) error

	// UIMessages returns a read-only channel for receiving messages from the backend to the UI.
	UIMessages() <-chan tea.Msg

	// AppEvents returns a write-only channel for the UI to send events to the backend.
	AppEvents() chan<- appevents.AppEvent
}

// browserState defines the different states of the browser UI.
type browserState int

const (
	findingTypes browserState = iota
	selectingType
	findingServices
	viewingServices
)

type KeyMap struct {
	Select key.Binding
	Back   key.Binding
	Quit   key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "browse type")),
	Back:   key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Select, k.Back, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var typeColumns = []table.Column{
	{Title: "Index", Width: 6},
	{Title: "Service Type", Width: 32},
}

var serviceColumns = []table.Column{
	{Title: "Name", Width: 24},
	{Title: "Host", Width: 24},
	{Title: "Address", Width: 16},
	{Title: "Port", Width: 6},
}

type model struct {
	app           AppController
	state         browserState
	spinner       spinner.Model
	help          help.Model
	typesTable    table.Model
	servicesTable table.Model
	types         []string
	services      []discovery.ServiceInfo
	serviceType   string
	domain        string
	err           error
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())
	return t
}

// InitialModel returns the browser model driven by app.
func InitialModel(app AppController, domain string) model {
	if domain == "" {
		domain = discovery.DefaultDomain
	}
	return model{
		app:           app,
		state:         findingTypes,
		spinner:       style.NewSpinner(),
		help:          help.New(),
		typesTable:    newTable(typeColumns),
		servicesTable: newTable(serviceColumns),
		domain:        domain,
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.app.UIMessages()
	}
}

// sendAppEvent delivers ev without blocking Update.
func (m model) sendAppEvent(ev appevents.AppEvent) tea.Cmd {
	return func() tea.Msg {
		m.app.AppEvents() <- ev
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForAppMessages())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case appevents.TypesMsg:
		slog.Debug("Service types update", "count", len(msg.Types))
		m.setTypes(msg.Types)
		return m, m.listenForAppMessages()
	case appevents.ServicesMsg:
		if msg.ServiceType == m.serviceType && (m.state == findingServices || m.state == viewingServices) {
			m.setServices(msg.Services)
		}
		return m, m.listenForAppMessages()
	case appevents.AppErrorMsg:
		m.err = msg.Err
		return m, m.listenForAppMessages()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, DefaultKeyMap.Quit) {
		return m, tea.Quit
	}

	var cmd tea.Cmd
	switch m.state {
	case selectingType:
		if key.Matches(msg, DefaultKeyMap.Select) {
			cursor := m.typesTable.Cursor()
			if cursor < 0 || cursor >= len(m.types) {
				return m, nil
			}
			m.err = nil
			m.serviceType = m.types[cursor]
			m.state = findingServices
			m.setServices(nil)
			return m, m.sendAppEvent(appevents.SelectTypeEvent{ServiceType: m.serviceType})
		}
		m.typesTable, cmd = m.typesTable.Update(msg)
	case findingServices, viewingServices:
		if key.Matches(msg, DefaultKeyMap.Back) {
			m.serviceType = ""
			m.state = findingTypes
			if len(m.types) > 0 {
				m.state = selectingType
			}
			return m, m.sendAppEvent(appevents.BackEvent{})
		}
		m.servicesTable, cmd = m.servicesTable.Update(msg)
	}
	return m, cmd
}

func (m *model) setTypes(types []string) {
	m.types = types
	rows := make([]table.Row, 0, len(types))
	for index, t := range types {
		rows = append(rows, table.Row{strconv.Itoa(index), t})
	}
	m.typesTable.SetRows(rows)
	m.typesTable.SetHeight(len(rows) + 1)

	switch {
	case m.state == findingTypes && len(types) > 0:
		m.state = selectingType
	case m.state == selectingType && len(types) == 0:
		m.state = findingTypes
	}
}

func (m *model) setServices(services []discovery.ServiceInfo) {
	m.services = services
	rows := make([]table.Row, 0, len(services))
	for _, svc := range services {
		addr := "-"
		if svc.Addr != nil {
			addr = svc.Addr.String()
		}
		port := "-"
		if svc.Port != 0 {
			port = strconv.Itoa(svc.Port)
		}
		rows = append(rows, table.Row{svc.Name, svc.Host, addr, port})
	}
	m.servicesTable.SetRows(rows)
	m.servicesTable.SetHeight(len(rows) + 1)

	if len(services) > 0 {
		m.state = viewingServices
	} else if m.state == viewingServices {
		m.state = findingServices
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(style.TitleStyle.Render("Service browser") + " " + style.HelpStyle.Render(m.domain) + "\n")

	switch m.state {
	case findingTypes:
		fmt.Fprintf(&b, "\n%s Enumerating service types...\n", m.spinner.View())
	case selectingType:
		fmt.Fprintf(&b, "\nFound %d service type(s)\n", len(m.types))
		b.WriteString(style.BaseStyle.Render(m.typesTable.View()) + "\n")
	case findingServices:
		fmt.Fprintf(&b, "\n%s Browsing %s...\n", m.spinner.View(), style.HighlightFontStyle.Render(m.serviceType))
	case viewingServices:
		fmt.Fprintf(&b, "\n%d instance(s) of %s\n", len(m.services), style.HighlightFontStyle.Render(m.serviceType))
		b.WriteString(style.BaseStyle.Render(m.servicesTable.View()) + "\n")
	default:
		return "Internal error: unknown browser state"
	}

	if m.err != nil {
		b.WriteString(style.ErrorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(m.help.View(DefaultKeyMap))
	return b.String()
}
