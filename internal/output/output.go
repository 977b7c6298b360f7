// Package output provides styled terminal output helpers (success, error,
// warning, entity and operation formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/michaelayoade/fieldsync/internal/models"
)

var (
	// Styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	versionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	opStatusStyles = map[models.OpStatus]lipgloss.Style{
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSyncing:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
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

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeNotConflicted = "not_conflicted"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatOpStatus formats an operation status with color
func FormatOpStatus(s models.OpStatus) string {
	style, ok := opStatusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatVersion formats an entity version
func FormatVersion(v int64) string {
	return versionStyle.Render(fmt.Sprintf("v%d", v))
}

// FormatEntityShort formats an entity in short format
func FormatEntityShort(e *models.Entity) string {
	var parts []string
	parts = append(parts, titleStyle.Render(e.ID))
	parts = append(parts, subtleStyle.Render(string(e.Kind)))
	parts = append(parts, FormatVersion(e.Version))
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(e.UpdatedAt)))
	return strings.Join(parts, "  ")
}

// FormatOperationShort formats a queued operation in short format
func FormatOperationShort(op *models.Operation) string {
	var parts []string
	parts = append(parts, titleStyle.Render(op.EntityID))
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%s %s", op.Kind, op.EntityKind)))
	parts = append(parts, FormatOpStatus(op.Status))
	if op.RetryCount > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("retries=%d", op.RetryCount)))
	}
	if op.LastError != "" {
		parts = append(parts, subtleStyle.Render(op.LastError))
	}
	return strings.Join(parts, "  ")
}

// FormatConflictLong renders a conflicted operation with both sides of
// the disagreement for resolution.
func FormatConflictLong(op *models.Operation) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s %s)", op.EntityID, op.Kind, op.EntityKind)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Operation: %s  Queued: %s\n", op.ID, FormatTimeAgo(op.Timestamp)))
	sb.WriteString(fmt.Sprintf("Local base version: %d  Server version: %d\n", op.BaseVersion, op.ServerVersion))

	if len(op.Data) > 0 {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Local change:"))
		sb.WriteString("\n")
		sb.WriteString(IndentString(prettyJSON(op.Data), 2))
		sb.WriteString("\n")
	}
	if len(op.ServerData) > 0 {
		sb.WriteString("\n")
		sb.WriteString(subtleStyle.Render("Server state:"))
		sb.WriteString("\n")
		sb.WriteString(IndentString(prettyJSON(op.ServerData), 2))
		sb.WriteString("\n")
	}

	return sb.String()
}

func prettyJSON(raw []byte) string {
	var buf strings.Builder
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
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

// OpStatusBadge returns a status indicator with symbol
// e.g., "○ pending", "▶ syncing", "✓ synced", "✗ conflict", "· failed"
func OpStatusBadge(status models.OpStatus) string {
	symbols := map[models.OpStatus]string{
		models.StatusPending:  "○",
		models.StatusSyncing:  "▶",
		models.StatusSynced:   "✓",
		models.StatusConflict: "✗",
		models.StatusFailed:   "·",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := opStatusStyles[status]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	indented := IndentLines(lines, spaces)
	return strings.Join(indented, "\n")
}
