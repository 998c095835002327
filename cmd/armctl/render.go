package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	jointStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableHdStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
)

var jointNames = [...]string{"base", "shoulder", "elbow", "wrist", "gripper"}

// render formats a reply for the terminal. Status replies become a joint
// table; error replies are highlighted; anything else is printed as is.
func render(data []byte) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return string(data)
	}

	if _, ok := probe["mode"]; ok {
		var st protocol.Status
		if err := json.Unmarshal(data, &st); err == nil {
			return renderStatus(st)
		}
	}

	var r protocol.Reply
	if err := json.Unmarshal(data, &r); err == nil && r.Err != "" {
		return errStyle.Render("error: " + string(r.Err))
	}
	if _, ok := probe["ok"]; ok {
		return okStyle.Render(string(data))
	}
	return string(data)
}

func renderStatus(st protocol.Status) string {
	rows := make([][]string, 0, len(st.Deg))
	for i, d := range st.Deg {
		rows = append(rows, []string{jointNames[i], fmt.Sprintf("%.1f", d)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Degrees").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHdStyle
			}
			if col == 0 {
				return jointStyle
			}
			return cellStyle
		})

	var b strings.Builder
	motion := "still"
	if st.Moving {
		motion = "moving"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("mode %s, %s", st.Mode, motion)))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("led %d  rgb %d,%d,%d  pwm %.0f Hz",
		st.LED, st.RGB.R, st.RGB.G, st.RGB.B, st.PWMHz)))
	if st.TrajectoryMode {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  trajectory %d/%d", st.TrajectoryIndex, st.TrajectoryPoints)))
	}
	if st.StreamMode {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  stream %d Hz", st.StreamFreq)))
	}
	return b.String()
}
