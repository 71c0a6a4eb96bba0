package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want Command
	}{
		{"hello there", Command{Kind: CmdChat, Text: "hello there"}},
		{"  /msg bob  see you  ", Command{Kind: CmdMessage, Target: "bob", Text: "see you"}},
		{"/kick carol", Command{Kind: CmdKick, Target: "carol"}},
		{"/host bob", Command{Kind: CmdTransferHost, Target: "bob"}},
		{"/muteall", Command{Kind: CmdMuteAll}},
		{"/mic", Command{Kind: CmdMic, Switch: SwitchToggle}},
		{"/mic off", Command{Kind: CmdMic, Switch: SwitchOff}},
		{"/CAM on", Command{Kind: CmdCamera, Switch: SwitchOn}},
		{"/screen slides.ivf", Command{Kind: CmdScreen, Switch: SwitchOn, Text: "slides.ivf"}},
		{"/screen off", Command{Kind: CmdScreen, Switch: SwitchOff}},
		{"/hand", Command{Kind: CmdHand}},
		{"/quit", Command{Kind: CmdQuit}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		if err != nil {
			t.Errorf("ParseCommand(%q): %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"/msg bob", "/kick", "/host", "/mic maybe", "/screen"} {
		if _, err := ParseCommand(line); !errors.Is(err, ErrUsage) {
			t.Errorf("ParseCommand(%q) = %v, want usage error", line, err)
		}
	}
	if _, err := ParseCommand("/dance"); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Errorf("unknown command: %v", err)
	}
}

func TestSwitchResolve(t *testing.T) {
	t.Parallel()

	if !SwitchToggle.Resolve(false) || SwitchToggle.Resolve(true) {
		t.Error("toggle does not flip")
	}
	if !SwitchOn.Resolve(false) || SwitchOff.Resolve(true) {
		t.Error("explicit switch ignored")
	}
}

type fakeController struct {
	executed []Command
	err      error
}

func (f *fakeController) View() (RoomView, error) {
	return RoomView{Self: "alice", Host: "alice", IsHost: true, Peers: []PeerRow{{Name: "alice", Self: true, Host: true}}}, nil
}

func (f *fakeController) Execute(cmd Command) error {
	f.executed = append(f.executed, cmd)
	return f.err
}

func TestDashboardSubmit(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{err: errors.New("only the host can do that")}
	d := NewDashboard(ctrl, nil, nil, nil)

	d.input.SetValue("/kick bob")
	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("no command for /kick")
	}
	msg := cmd()
	if len(ctrl.executed) != 1 || ctrl.executed[0].Target != "bob" {
		t.Fatalf("executed = %+v", ctrl.executed)
	}
	d.Update(msg)
	if len(d.log) != 1 || !strings.Contains(d.log[0], "only the host") {
		t.Fatalf("log = %q", d.log)
	}
	if d.input.Value() != "" {
		t.Fatal("input not cleared")
	}

	d.input.SetValue("/nope")
	if _, cmd := d.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("bad command reached the controller")
	}
	if len(d.log) != 2 {
		t.Fatalf("log = %q", d.log)
	}
}

func TestDashboardShowsRoster(t *testing.T) {
	t.Parallel()

	d := NewDashboard(&fakeController{}, nil, nil, nil)
	v, _ := d.ctrl.View()
	d.Update(viewMsg(v))
	d.Update(lineMsg(Line{Kind: LineChat, From: "bob", Text: "hi", Private: true}))

	out := d.View()
	for _, want := range []string{"alice", "(you)", "bob", "hi", "private"} {
		if !strings.Contains(out, want) {
			t.Errorf("view lacks %q", want)
		}
	}
}
