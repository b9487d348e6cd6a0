// Package output provides styled terminal output helpers (success, error,
// warning, asset formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/inv/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusAvailable:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusInUse:       lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusMaintenance: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusRetired:     lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatStatus formats a status with color
func FormatStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatAssetShort formats an asset on one line: id, name, category, status.
func FormatAssetShort(asset *models.Asset) string {
	var parts []string
	parts = append(parts, titleStyle.Render(asset.ID))
	parts = append(parts, asset.Name)

	if asset.Category != "" {
		parts = append(parts, subtleStyle.Render(asset.Category))
	}
	if asset.Assignee != "" {
		parts = append(parts, subtleStyle.Render("@"+asset.Assignee))
	}

	if asset.DeletedAt != nil {
		parts = append(parts, errorStyle.Render("[deleted]"))
	} else {
		parts = append(parts, FormatStatus(asset.Status))
	}

	return strings.Join(parts, "  ")
}

// FormatAssetLong formats an asset with its history.
func FormatAssetLong(asset *models.Asset, history []models.AssetHistory) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", asset.ID, asset.Name)))
	sb.WriteString("\n")
	if asset.DeletedAt != nil {
		sb.WriteString(fmt.Sprintf("Status: %s (deleted %s)\n", errorStyle.Render("[deleted]"), FormatTimeAgo(*asset.DeletedAt)))
	} else {
		sb.WriteString(fmt.Sprintf("Status: %s\n", FormatStatus(asset.Status)))
	}

	var line []string
	if asset.Category != "" {
		line = append(line, "Category: "+asset.Category)
	}
	if asset.Location != "" {
		line = append(line, "Location: "+asset.Location)
	}
	if asset.Serial != "" {
		line = append(line, "Serial: "+asset.Serial)
	}
	if len(line) > 0 {
		sb.WriteString(strings.Join(line, " | "))
		sb.WriteString("\n")
	}

	if asset.Assignee != "" {
		sb.WriteString(fmt.Sprintf("Assignee: %s\n", asset.Assignee))
	}

	if asset.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Description:"))
		sb.WriteString("\n")
		sb.WriteString(asset.Description)
		sb.WriteString("\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nHISTORY:\n")
		for _, h := range history {
			actor := ""
			if h.Actor != "" {
				actor = " by " + h.Actor
			}
			note := ""
			if h.Note != "" {
				note = ": " + h.Note
			}
			sb.WriteString(fmt.Sprintf("  [%s] %s%s%s\n",
				h.OccurredAt.Format("2006-01-02 15:04"), h.Event, actor, note))
		}
	}

	sb.WriteString(subtleStyle.Render(fmt.Sprintf("\nUpdated %s (v%d)\n", FormatTimeAgo(asset.UpdatedAt), asset.Version)))
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}
