package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Bluehatcoders/jam/internal/swarm"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = time.Second
	maxLogLines     = 8
)

// RoomSnapshot is what the room view polls on every refresh.
type RoomSnapshot struct {
	Room      string
	PeerID    string
	Connected bool
	Peers     []PeerRow
}

// RoomActions are bound to keys. Nil actions are ignored.
type RoomActions struct {
	ToggleHand func() error
	React      func() error
	Reconnect  func() error
}

type refreshMsg time.Time

type eventMsg swarm.Event

type eventsClosedMsg struct{}

type actionResultMsg struct {
	name string
	err  error
}

// RoomModel is the live view of a joined room.
type RoomModel struct {
	snapshot func() RoomSnapshot
	events   <-chan swarm.Event
	actions  RoomActions

	spinner  spinner.Model
	current  RoomSnapshot
	log      []string
	quitting bool
}

func NewRoomModel(snapshot func() RoomSnapshot, events <-chan swarm.Event, actions RoomActions) *RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		snapshot: snapshot,
		events:   events,
		actions:  actions,
		spinner:  s,
		current:  snapshot(),
	}
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), refresh())
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *RoomModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

func run(name string, action func() error) tea.Cmd {
	if action == nil {
		return nil
	}
	return func() tea.Msg {
		return actionResultMsg{name: name, err: action()}
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "h":
			return m, run("hand", m.actions.ToggleHand)
		case "e":
			return m, run("react", m.actions.React)
		case "r":
			m.addLog(MutedStyle.Render("reconnecting..."))
			return m, run("reconnect", m.actions.Reconnect)
		}

	case refreshMsg:
		m.current = m.snapshot()
		return m, refresh()

	case eventMsg:
		if line := DescribeEvent(swarm.Event(msg)); line != "" {
			m.addLog(line)
		}
		m.current = m.snapshot()
		return m, m.waitForEvent()

	case eventsClosedMsg:
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.addLog(ErrorStyle.Render(fmt.Sprintf("%s failed: %v", msg.name, msg.err)))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *RoomModel) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.current.Room)))
	b.WriteString("\n")

	if m.current.Connected {
		b.WriteString(fmt.Sprintf("%s connected as %s\n\n", SuccessStyle.Render(IconConnect), MutedStyle.Render(truncateString(m.current.PeerID, 16))))
	} else {
		b.WriteString(fmt.Sprintf("%s connecting...\n\n", m.spinner.View()))
	}

	b.WriteString(PeersView(m.current.Peers))
	b.WriteString("\n")

	for _, line := range m.log {
		b.WriteString("  " + line + "\n")
	}

	b.WriteString(FooterStyle.Render("h raise hand • e react • r reconnect • q leave"))
	return b.String()
}

// DescribeEvent renders a swarm event as one log line. Events not worth
// showing return "".
func DescribeEvent(e swarm.Event) string {
	who := truncateString(e.PeerID, 12)
	switch e.Kind {
	case swarm.EventNewPeer:
		return fmt.Sprintf("%s %s joined", IconPeer, who)
	case swarm.EventPeerRemoved:
		return MutedStyle.Render(fmt.Sprintf("%s left", who))
	case swarm.EventStreamAdded:
		name := "stream"
		if e.Stream != nil && e.Stream.Name != "" {
			name = e.Stream.Name
		}
		return fmt.Sprintf("%s %s from %s", IconStream, name, who)
	case swarm.EventStreamRemoved:
		return MutedStyle.Render(fmt.Sprintf("stream from %s ended", who))
	case swarm.EventPeerEvent:
		return fmt.Sprintf("%s: %s", who, string(e.Data))
	case swarm.EventConnectionChanged:
		if e.Connected {
			return SuccessStyle.Render("connected to room")
		}
		return WarningStyle.Render("disconnected from room")
	default:
		return ""
	}
}

// RunRoom runs the room view until the user quits.
func RunRoom(m *RoomModel) error {
	_, err := tea.NewProgram(m).Run()
	return err
}
