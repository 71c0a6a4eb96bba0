package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLines = 200

// LineKind classifies a line in the activity log.
type LineKind int

const (
	LineInfo LineKind = iota
	LineChat
	LineWarning
	LineError
)

// Line is one activity log entry.
type Line struct {
	Kind    LineKind
	From    string
	Text    string
	Private bool
}

// Controller is what the dashboard drives. Both methods may block.
type Controller interface {
	View() (RoomView, error)
	Execute(cmd Command) error
}

type (
	changedMsg struct{}
	lineMsg    Line
	endedMsg   struct{ err error }
	viewMsg    RoomView
	resultMsg  struct{ err error }
)

// Dashboard is the interactive room screen.
type Dashboard struct {
	ctrl    Controller
	changes <-chan struct{}
	feed    <-chan Line
	ended   <-chan error

	input   textinput.Model
	spinner spinner.Model
	view    RoomView
	log     []string
	height  int
	err     error
	closed  bool
}

// NewDashboard creates the model. ended delivers the session result and
// closes the dashboard.
func NewDashboard(ctrl Controller, changes <-chan struct{}, feed <-chan Line, ended <-chan error) *Dashboard {
	in := textinput.New()
	in.Placeholder = "Say something, or /help"
	in.Prompt = "› "
	in.CharLimit = 500
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &Dashboard{
		ctrl:    ctrl,
		changes: changes,
		feed:    feed,
		ended:   ended,
		input:   in,
		spinner: s,
		height:  24,
	}
}

// Run shows the dashboard until the user quits or the session ends, and
// returns the session error, if any.
func (d *Dashboard) Run() error {
	final, err := tea.NewProgram(d, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	return final.(*Dashboard).err
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, d.spinner.Tick, d.refresh(), d.waitChange(), d.waitLine(), d.waitEnd())
}

func (d *Dashboard) waitChange() tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-d.changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (d *Dashboard) waitLine() tea.Cmd {
	return func() tea.Msg {
		l, ok := <-d.feed
		if !ok {
			return nil
		}
		return lineMsg(l)
	}
}

func (d *Dashboard) waitEnd() tea.Cmd {
	return func() tea.Msg {
		return endedMsg{err: <-d.ended}
	}
}

func (d *Dashboard) refresh() tea.Cmd {
	return func() tea.Msg {
		v, err := d.ctrl.View()
		if err != nil {
			return nil
		}
		return viewMsg(v)
	}
}

func (d *Dashboard) execute(cmd Command) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{err: d.ctrl.Execute(cmd)}
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			d.closed = true
			return d, tea.Quit
		case tea.KeyEnter:
			return d, d.submit()
		}

	case tea.WindowSizeMsg:
		d.height = msg.Height
		d.input.Width = msg.Width - 4

	case changedMsg:
		return d, tea.Batch(d.refresh(), d.waitChange())

	case viewMsg:
		d.view = RoomView(msg)
		return d, nil

	case lineMsg:
		d.append(Line(msg))
		return d, d.waitLine()

	case resultMsg:
		if msg.err != nil {
			d.append(Line{Kind: LineError, Text: msg.err.Error()})
		}
		return d, d.refresh()

	case endedMsg:
		d.err = msg.err
		d.closed = true
		return d, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}

	var cmd tea.Cmd
	d.input, cmd = d.input.Update(msg)
	return d, cmd
}

// submit handles the current input line.
func (d *Dashboard) submit() tea.Cmd {
	line := d.input.Value()
	d.input.Reset()
	if strings.TrimSpace(line) == "" {
		return nil
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		d.append(Line{Kind: LineError, Text: err.Error()})
		return nil
	}
	switch cmd.Kind {
	case CmdQuit:
		d.closed = true
		return tea.Quit
	case CmdHelp:
		d.append(Line{Kind: LineInfo, Text: HelpText})
		return nil
	}
	return d.execute(cmd)
}

func (d *Dashboard) append(l Line) {
	d.log = append(d.log, renderLine(l))
	if len(d.log) > maxLines {
		d.log = d.log[len(d.log)-maxLines:]
	}
}

func renderLine(l Line) string {
	switch l.Kind {
	case LineChat:
		from := ChatFromStyle.Render(l.From)
		if l.Private {
			return fmt.Sprintf("%s %s %s", from, PrivateStyle.Render("(private)"), l.Text)
		}
		return fmt.Sprintf("%s %s", from, l.Text)
	case LineWarning:
		return WarningStyle.Render(IconWarning + " " + l.Text)
	case LineError:
		return ErrorStyle.Render(IconError + " " + l.Text)
	}
	return MutedStyle.Render(l.Text)
}

func (d *Dashboard) View() string {
	if d.closed {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf("%s meshcall", IconRoom)
	if d.view.RoomID != "" {
		title += " · " + d.view.RoomID
	}
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString("\n")

	if d.view.Self == "" {
		b.WriteString(d.spinner.View() + " Joining...\n")
	} else {
		b.WriteString(RosterView(d.view.Peers))
		b.WriteString("\n")
		if d.view.IsHost && d.view.JoinLink != "" {
			b.WriteString(MutedStyle.Render(IconLink+" "+d.view.JoinLink) + "\n")
		}
	}

	// Fit the log into whatever the roster left over.
	used := strings.Count(b.String(), "\n") + 4
	room := max(d.height-used, 3)
	start := max(len(d.log)-room, 0)
	b.WriteString("\n")
	for _, l := range d.log[start:] {
		b.WriteString(l + "\n")
	}

	b.WriteString("\n" + d.input.View())
	b.WriteString(FooterStyle.Render("\n/help for commands · ctrl+c to leave"))
	return b.String()
}
