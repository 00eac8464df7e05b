// Package kioskui renders a classroom attendance kiosk in the terminal. It
// polls the backend for the tablet's active session and repaints a rotating
// QR code that students scan to mark themselves present.
package kioskui

import (
	"context"
	"fmt"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/polytech-platform/traffic-attendance-service/internal/kiosk"
)

const statePollInterval = 5 * time.Second

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 3)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtitleStyle = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerStyle   = lipgloss.NewStyle().Faint(true)
)

type stateMsg struct {
	state *State
	err   error
}

type repaintMsg time.Time

type pollMsg struct{}

// Model drives the kiosk screen. linkBase is the URL scheme the QR payload
// is built on; the student app registers it as a deep link.
type Model struct {
	client   *Client
	linkBase string

	state   *State
	gen     *kiosk.Generator
	lastErr error
}

func New(client *Client, linkBase string) Model {
	return Model{client: client, linkBase: linkBase}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchState(), repaintTick())
}

func (m Model) fetchState() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		state, err := m.client.Fetch(ctx)
		return stateMsg{state: state, err: err}
	}
}

func repaintTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return repaintMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case stateMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.state = msg.state
			m.gen = nil
			if s := msg.state.Session; s != nil {
				m.gen = kiosk.NewGenerator(s.ID, s.QRSecret, s.RotateSeconds)
			}
		}
		return m, tea.Tick(statePollInterval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.fetchState()

	case repaintMsg:
		return m, repaintTick()
	}
	return m, nil
}

func (m Model) View() string {
	var body string
	switch {
	case m.lastErr != nil && m.state == nil:
		body = errorStyle.Render("backend unreachable: " + m.lastErr.Error())
	case m.state == nil:
		body = subtitleStyle.Render("connecting...")
	case m.state.Session == nil || m.gen == nil:
		body = lipgloss.JoinVertical(lipgloss.Center,
			titleStyle.Render(m.roomTitle()),
			"",
			subtitleStyle.Render("no active session"),
			subtitleStyle.Render("waiting for a teacher to open one"),
		)
	default:
		frame := m.gen.Current()
		body = lipgloss.JoinVertical(lipgloss.Center,
			titleStyle.Render(m.state.Session.Discipline),
			subtitleStyle.Render(m.state.Session.TeacherName+" · "+m.roomTitle()),
			"",
			m.renderQR(frame),
			footerStyle.Render(fmt.Sprintf("code refreshes in %ds", int(frame.ExpiresIn.Seconds())+1)),
		)
	}
	return frameStyle.Render(body) + "\n" + footerStyle.Render("press q to quit") + "\n"
}

func (m Model) roomTitle() string {
	if m.state == nil || m.state.Tablet == nil {
		return ""
	}
	t := m.state.Tablet
	if t.BuildingName == "" {
		return t.RoomName
	}
	return t.BuildingName + ", " + t.RoomName
}

func (m Model) renderQR(frame kiosk.Frame) string {
	payload := fmt.Sprintf("%s?session_id=%s&token=%s",
		m.linkBase, url.QueryEscape(frame.SessionID), url.QueryEscape(frame.Token))
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return errorStyle.Render("qr encode failed: " + err.Error())
	}
	return qr.ToSmallString(false)
}
