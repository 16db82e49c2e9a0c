// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxLogEntries  = 100
	refreshPeriod  = 100 * time.Millisecond
	channelBarSize = 30
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

type simKeyMap struct {
	Quit  key.Binding
	Loss  key.Binding
	Reset key.Binding
}

func (k simKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Loss, k.Reset, k.Quit}
}

func (k simKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var simKeys = simKeyMap{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Loss:  key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "cycle loss")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset stats")),
}

// TUI model
type simModel struct {
	sim      *simulation
	snap     simSnapshot
	help     help.Model
	width    int
	height   int
	quitting bool
}

// Messages
type simTickMsg time.Time

func newSimModel(sim *simulation) simModel {
	return simModel{
		sim:    sim,
		snap:   sim.snapshot(),
		help:   help.New(),
		width:  80,
		height: 24,
	}
}

func (m simModel) Init() tea.Cmd {
	return simTickCmd()
}

func simTickCmd() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg {
		return simTickMsg(t)
	})
}

func (m simModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, simKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, simKeys.Loss):
			m.sim.cycleLoss()
		case key.Matches(msg, simKeys.Reset):
			m.sim.resetStats()
		}
		m.snap = m.sim.snapshot()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case simTickMsg:
		m.snap = m.sim.snapshot()
		return m, simTickCmd()
	}

	return m, nil
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, unit := range []struct {
		n    uint64
		name string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	} {
		if unit.n == 1 {
			parts = append(parts, "1 "+unit.name)
		} else if unit.n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", unit.n, unit.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// channelBar renders a channel value in the sweep range as a bar
func channelBar(value uint16) string {
	filled := 0
	if value > sweepMin {
		filled = int(value-sweepMin) * channelBarSize / sweepRange
	}
	filled = min(filled, channelBarSize)
	return strings.Repeat("█", filled) + strings.Repeat("░", channelBarSize-filled)
}

func (m simModel) View() string {
	if m.quitting {
		return "Disconnecting...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	stateStyle := func(st rcp.State) string {
		if st == rcp.StateConnected {
			return statsValueStyle.Render(st.String())
		}
		return warningStyle.Render(st.String())
	}

	snap := m.snap
	settings := m.sim.settings

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("RCLINK - SIMULATION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Tick: %v | Channels: %d | Ack: %v | Ack payload: %v",
		settings.TickPeriod, settings.ChannelCount, settings.EnableAck, settings.EnableAckPayload)))
	s.WriteString("\n\n")

	// Link
	linkContent := strings.Builder{}
	linkContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Receiver:"), stateStyle(snap.rxState),
		statsLabelStyle.Render("Transmitter:"), stateStyle(snap.txState),
		statsLabelStyle.Render("Loss:"), func() string {
			if snap.loss > 0 {
				return warningStyle.Render(fmt.Sprintf("%.0f%%", snap.loss*100))
			}
			return statsValueStyle.Render("0%")
		}(),
	))
	if settings.EnableAckPayload {
		linkContent.WriteString(fmt.Sprintf("\n%s %s",
			statsLabelStyle.Render("Receiver uptime:"), statsValueStyle.Render(formatUptime(snap.uptime))))
	}
	s.WriteString(boxStyle.Render(linkContent.String()))
	s.WriteString("\n")

	// Statistics
	statsLine := func(name string, st rcp.Statistics) string {
		errors := st.Errors()
		errText := statsValueStyle.Render(fmt.Sprintf("%d", errors))
		if errors > 0 {
			errText = errorStyle.Render(fmt.Sprintf("%d", errors))
		}
		return fmt.Sprintf("%s %s %s   %s %s   %s %s   %s %s",
			statsLabelStyle.Render(name),
			statsLabelStyle.Render("Updated:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Updated)),
			statsLabelStyle.Render("Slow:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TickTooShort)),
			statsLabelStyle.Render("Errors:"), errText,
			statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", st.UpdateRate)),
		)
	}
	statsContent := statsLine("TX", snap.txStats) + "\n" + statsLine("RX", snap.rxStats)
	if snap.txStats.PacketNotSent > 0 {
		statsContent += fmt.Sprintf("\n%s %s",
			statsLabelStyle.Render("Not acknowledged:"),
			errorStyle.Render(fmt.Sprintf("%d", snap.txStats.PacketNotSent)))
	}
	s.WriteString(boxStyle.Render(statsContent))
	s.WriteString("\n")

	// Channels as received
	channelContent := strings.Builder{}
	for i, v := range snap.channels {
		if i > 0 {
			channelContent.WriteString("\n")
		}
		channelContent.WriteString(fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render(fmt.Sprintf("CH%-2d", i+1)),
			statsValueStyle.Render(channelBar(v)),
			headerStyle.Render(fmt.Sprintf("%4d", v)),
		))
	}
	s.WriteString(boxStyle.Render(channelContent.String()))
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 17 - len(snap.channels)
	if logHeight < 3 {
		logHeight = 3
	}
	logContent := strings.Builder{}
	startIdx := max(len(snap.events)-logHeight, 0)
	if len(snap.events) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(snap.events); i++ {
			entry := snap.events[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(strings.TrimRight(logContent.String(), "\n")))
	s.WriteString("\n")
	s.WriteString(m.help.View(simKeys))

	return s.String()
}
