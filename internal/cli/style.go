package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/kiranshivaraju/tidyflow/internal/client"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Theme holds the colors used for status lines.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"),
	Success: lipgloss.Color("#00D787"),
	Error:   lipgloss.Color("#FF005F"),
	Hint:    lipgloss.Color("#6C6C6C"),
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// statusLine renders one observed job status.
func statusLine(job *models.Job) string {
	v := client.ViewOf(job)
	switch v.Phase {
	case client.PhaseDone:
		return defaultTheme.successStyle().Render("✓ completed")
	case client.PhaseFailed:
		return defaultTheme.errorStyle().Render("✗ failed")
	default:
		if v.Step == 0 {
			return defaultTheme.statusStyle().Render(fmt.Sprintf("• %s", v.Status))
		}
		return defaultTheme.statusStyle().Render(fmt.Sprintf("• [%d/%d] %s", v.Step, v.Steps, v.Status))
	}
}

// ErrorLine renders a command error for stderr.
func ErrorLine(err error) string {
	return defaultTheme.errorStyle().Render("Error: ") + err.Error()
}

func hint(s string) string {
	return defaultTheme.hintStyle().Render(s)
}
