package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/e7canasta/camrecorder/internal/types"
)

// The 320x240 video box in terminal cells. Each cell shows two vertical
// pixels with an upper half block.
const (
	videoCols   = 40
	videoRows   = 12
	panelHeight = 3
)

// View renders the window
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	body := lipgloss.JoinVertical(lipgloss.Center,
		m.videoView(),
		m.panelView(),
	)
	box := m.styles.box.Render(body)

	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func (m Model) videoView() string {
	if m.frame == nil {
		return lipgloss.Place(videoCols, videoRows, lipgloss.Center, lipgloss.Center,
			m.styles.placeholder.Render("no signal"))
	}
	return renderFrame(*m.frame, videoCols, videoRows)
}

func (m Model) panelView() string {
	label := "Start Record"
	button := m.styles.button
	if m.State.Video.Recording {
		label = "Stop Record"
		button = m.styles.buttonRec
	}

	var status string
	switch m.playback {
	case types.StatusPlaying:
		status = m.styles.recording.Render("● REC") + " " + m.styles.status.Render(clock(m.progress))
	case types.StatusPaused:
		status = m.styles.status.Render("paused " + clock(m.progress))
	default:
		status = m.styles.status.Render("stopped")
	}
	if m.duration > 0 {
		status += m.styles.status.Render(" / " + clock(m.duration))
	}
	if m.lastErr != "" {
		status = m.styles.errorText.Render(truncate(m.lastErr, videoCols))
	}

	panel := lipgloss.JoinVertical(lipgloss.Center,
		button.Render(label),
		status,
		m.help.View(m.keys),
	)
	return lipgloss.NewStyle().Width(videoCols).Height(panelHeight).Align(lipgloss.Center).Render(panel)
}

// renderFrame draws the frame into cols x rows cells using nearest
// neighbour sampling; the foreground of each cell is the upper pixel and the
// background the lower one.
func renderFrame(f types.Frame, cols, rows int) string {
	if f.Width <= 0 || f.Height <= 0 {
		return ""
	}

	var b strings.Builder
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			x := cx * f.Width / cols
			yTop := (2 * cy) * f.Height / (2 * rows)
			yBottom := (2*cy + 1) * f.Height / (2 * rows)

			tr, tg, tb := f.RGB(x, yTop)
			br, bg, bb := f.RGB(x, yBottom)
			b.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(hex(tr, tg, tb))).
				Background(lipgloss.Color(hex(br, bg, bb))).
				Render("▀"))
		}
		if cy < rows-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func hex(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func clock(seconds uint64) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
