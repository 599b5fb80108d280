// Package clioutput provides styled terminal output helpers (success,
// error, warning, sync status, card/deck formatting) using lipgloss, for
// the cardsync demo CLI.
package clioutput

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/cardsync/internal/migration"
	"github.com/marcus/cardsync/internal/model"
	"github.com/marcus/cardsync/internal/syncqueue"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	stateStyles = map[syncqueue.State]lipgloss.Style{
		syncqueue.StateIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		syncqueue.StateSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		syncqueue.StateError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	cardStateStyles = map[model.CardState]lipgloss.Style{
		model.StateNew:        lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		model.StateLearning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.StateReview:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.StateRelearning: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as indented JSON.
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConflict     = "conflict"
	ErrCodeSyncInFlight = "sync_in_progress"
	ErrCodeOffline      = "offline"
	ErrCodeStoreError   = "store_error"
	ErrCodeServerError  = "server_error"
)

// JSONError outputs an error as JSON.
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatSyncState formats a sync queue state with color.
func FormatSyncState(s syncqueue.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatCardState formats a card's learning state with color.
func FormatCardState(s model.CardState) string {
	style, ok := cardStateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatSyncStatus renders a one-line summary of a syncqueue.Status.
func FormatSyncStatus(s syncqueue.Status) string {
	var parts []string
	parts = append(parts, FormatSyncState(s.State))
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("watermark=%d", s.SyncVersionWatermark)))
	if !s.LastSyncAt.IsZero() {
		parts = append(parts, subtleStyle.Render("last sync "+FormatTimeAgo(s.LastSyncAt)))
	} else {
		parts = append(parts, subtleStyle.Render("never synced"))
	}
	if s.LastError != "" {
		parts = append(parts, errorStyle.Render(s.LastError))
	}
	return strings.Join(parts, "  ")
}

// FormatDeckOneLiner formats a deck in short form: "<name>  N new/day".
func FormatDeckOneLiner(d *model.Deck) string {
	name := titleStyle.Render(d.Name)
	return fmt.Sprintf("%s  %s", name, subtleStyle.Render(fmt.Sprintf("%d new/day", d.NewCardsPerDay)))
}

// FormatCardOneLiner formats a card in short form: "<id> [state] due <when>".
func FormatCardOneLiner(c *model.Card) string {
	parts := []string{subtleStyle.Render(ShortID(c.ID)), FormatCardState(c.State)}
	if !c.Due.IsZero() {
		parts = append(parts, "due "+FormatTimeAgo(c.Due))
	}
	return strings.Join(parts, "  ")
}

// FormatPendingSummary renders "up to date" when nothing is pending, and
// otherwise "N pending change(s)" with N summed across all kinds.
func FormatPendingSummary(p *syncqueue.PendingChanges) string {
	total := p.Total()
	if total == 0 {
		return successStyle.Render("up to date")
	}
	return warningStyle.Render(fmt.Sprintf("%d pending change(s)", total))
}

// FormatMigrationProgress renders a one-line progress indicator for a
// migration.Progress event, e.g. "card: 40/120 (33.3%)".
func FormatMigrationProgress(p migration.Progress) string {
	return fmt.Sprintf("%s: %d/%d (%.1f%%)", p.EntityType, p.Current, p.Total, p.Percentage)
}

// FormatMigrationResult renders the outcome of a migration run.
func FormatMigrationResult(r migration.Result) string {
	if r.Err != nil {
		return errorStyle.Render(fmt.Sprintf("migration failed: %v", r.Err))
	}
	if !r.WasRun {
		return subtleStyle.Render("migration already completed")
	}
	total := 0
	for _, n := range r.Status.Counts {
		total += n
	}
	return successStyle.Render(fmt.Sprintf("migration completed: %d row(s) seeded", total))
}

// FormatTimeAgo formats a time as a human-readable "ago" string.
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

// ShortID shortens an id to 8 characters for display, or returns it as-is
// if already shorter.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SectionHeader returns a formatted section header for CLI output.
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces.
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// BulletList formats items as a bulleted list with optional indentation.
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
