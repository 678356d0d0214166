package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerRow is one line of the peers table.
type PeerRow struct {
	PeerID   string
	State    string
	Client   string
	RTT      time.Duration
	Streams  int
	Failures int
	Hand     bool
}

// PeersView renders the peers of a room using lipgloss/table.
func PeersView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No peers yet")
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		id := truncateString(r.PeerID, 16)
		if r.Hand {
			id = IconHand + " " + id
		}
		client := r.Client
		if client == "" {
			client = "-"
		}
		cells = append(cells, []string{
			id,
			r.State,
			client,
			formatRTT(r.RTT),
			fmt.Sprintf("%d", r.Streams),
			fmt.Sprintf("%d", r.Failures),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Peer", "State", "Client", "RTT", "Streams", "Failures").
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// RoomInfo is the box printed after joining or creating a room.
type RoomInfo struct {
	RoomID   string
	RoomLink string
	PeerID   string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Room %s\n\n%s Room ID:   %s\n%s Link:      %s",
		IconRoom, BoldStyle.Render("ready"),
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	if r.PeerID != "" {
		content += fmt.Sprintf("\n%s You:       %s", IconPeer, MutedStyle.Render(r.PeerID))
	}
	return RoomBoxStyle.Render(content)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatRTT(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d ms", d.Milliseconds())
}

// formatDuration formats a session length as 1h 2m 3s.
func formatDuration(d time.Duration) string {
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
