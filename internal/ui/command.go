package ui

import (
	"errors"
	"fmt"
	"strings"
)

// CommandKind identifies a dashboard command.
type CommandKind int

const (
	CmdChat CommandKind = iota
	CmdMessage
	CmdKick
	CmdTransferHost
	CmdMuteAll
	CmdMic
	CmdCamera
	CmdScreen
	CmdHand
	CmdHelp
	CmdQuit
)

// Switch is the argument of an on/off command.
type Switch int

const (
	SwitchToggle Switch = iota
	SwitchOn
	SwitchOff
)

// Resolve applies s to the current value.
func (s Switch) Resolve(current bool) bool {
	switch s {
	case SwitchOn:
		return true
	case SwitchOff:
		return false
	}
	return !current
}

// Command is one parsed line of input.
type Command struct {
	Kind CommandKind
	// Target names a participant for /msg, /kick and /host.
	Target string
	// Text is the chat text, or the file for /screen.
	Text   string
	Switch Switch
}

var ErrUsage = errors.New("usage")

const HelpText = "/msg <user> <text>  /kick <user>  /host <user>  /muteall  /mic [on|off]  /cam [on|off]  /screen <file.ivf>|off  /hand  /quit"

// ParseCommand parses an input line. Lines without a leading slash are chat.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdChat, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "msg", "w":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return Command{}, fmt.Errorf("%w: /msg <user> <text>", ErrUsage)
		}
		return Command{Kind: CmdMessage, Target: target, Text: text}, nil

	case "kick":
		if rest == "" {
			return Command{}, fmt.Errorf("%w: /kick <user>", ErrUsage)
		}
		return Command{Kind: CmdKick, Target: rest}, nil

	case "host":
		if rest == "" {
			return Command{}, fmt.Errorf("%w: /host <user>", ErrUsage)
		}
		return Command{Kind: CmdTransferHost, Target: rest}, nil

	case "muteall":
		return Command{Kind: CmdMuteAll}, nil

	case "mic", "cam":
		sw, err := parseSwitch(rest)
		if err != nil {
			return Command{}, fmt.Errorf("%w: /%s [on|off]", ErrUsage, name)
		}
		kind := CmdMic
		if strings.EqualFold(name, "cam") {
			kind = CmdCamera
		}
		return Command{Kind: kind, Switch: sw}, nil

	case "screen":
		switch {
		case rest == "":
			return Command{}, fmt.Errorf("%w: /screen <file.ivf>|off", ErrUsage)
		case strings.EqualFold(rest, "off"):
			return Command{Kind: CmdScreen, Switch: SwitchOff}, nil
		}
		return Command{Kind: CmdScreen, Switch: SwitchOn, Text: rest}, nil

	case "hand":
		sw, err := parseSwitch(rest)
		if err != nil {
			return Command{}, fmt.Errorf("%w: /hand [on|off]", ErrUsage)
		}
		return Command{Kind: CmdHand, Switch: sw}, nil

	case "help", "?":
		return Command{Kind: CmdHelp}, nil

	case "quit", "exit", "leave":
		return Command{Kind: CmdQuit}, nil
	}
	return Command{}, fmt.Errorf("unknown command /%s", name)
}

func parseSwitch(s string) (Switch, error) {
	switch strings.ToLower(s) {
	case "":
		return SwitchToggle, nil
	case "on":
		return SwitchOn, nil
	case "off":
		return SwitchOff, nil
	}
	return SwitchToggle, ErrUsage
}
