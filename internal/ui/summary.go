package ui

import (
	"fmt"
	"time"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is printed when leaving a room.
type SessionSummary struct {
	Room      string
	PeerID    string
	Duration  time.Duration
	PeersSeen int
	Streams   int
	Received  int64
	Events    int
	Failures  int
	Dropped   int64
}

// SessionSummaryView renders s with go-pretty.
func SessionSummaryView(s SessionSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle("Session Summary")
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiMagenta}
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", s.Room},
		{"Peer ID", truncateString(s.PeerID, 24)},
		{"Duration", formatDuration(s.Duration)},
		{"Peers seen", s.PeersSeen},
		{"Streams received", s.Streams},
		{"Media received", formatBytes(s.Received)},
		{"Peer events", s.Events},
		{"Connection failures", s.Failures},
	})
	if s.Dropped > 0 {
		t.AppendFooter(prettytable.Row{"Dropped events", fmt.Sprintf("%d", s.Dropped)})
	}
	return t.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}
