package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerRow is one line of the roster.
type PeerRow struct {
	Name       string
	Host       bool
	Self       bool
	Secured    bool
	Connection string
	Mic        bool
	Camera     bool
	Screen     bool
	Hand       bool
}

// RoomView is everything the dashboard shows.
type RoomView struct {
	Self     string
	Host     string
	IsHost   bool
	RoomID   string
	JoinLink string
	Key      string
	Peers    []PeerRow
}

// RosterView renders the participants as a table.
func RosterView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		name := truncate(r.Name, 24)
		if r.Self {
			name += " (you)"
		}
		if r.Host {
			name = IconHost + " " + name
		}
		link := r.Connection
		if r.Secured {
			link = IconLock + " " + link
		}
		data = append(data, []string{name, link, mediaIcons(r)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Link", "Media").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func mediaIcons(r PeerRow) string {
	var icons []string
	if r.Mic {
		icons = append(icons, IconMic)
	} else {
		icons = append(icons, IconMuted)
	}
	if r.Camera {
		icons = append(icons, IconCamera)
	}
	if r.Screen {
		icons = append(icons, IconScreen)
	}
	if r.Hand {
		icons = append(icons, IconHand)
	}
	return strings.Join(icons, " ")
}

// RoomInfoView renders the box shown to the host after creating a room.
func RoomInfoView(roomID, link, key string) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:   %s\n%s Key:       %s\n%s Join link: %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(roomID),
		IconKey, MutedStyle.Render(key),
		IconLink, MutedStyle.Render(link),
	)

	return boxStyle.Render(content)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
