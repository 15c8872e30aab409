package common

import (
	"fmt"
	"io"
	"strings"

	"metered-assistant-go/internal/models"
)

const (
	DefaultWidth = 80

	timestampLayout = "2006-01-02 15:04:05"
	fieldWidth      = 14
)

// Report writes the plain-text operator reports of the admin commands.
type Report struct {
	w     io.Writer
	width int
}

func NewReport(w io.Writer, width int) *Report {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Report{w: w, width: width}
}

func (r *Report) Header(title string) {
	fmt.Fprintf(r.w, "\n%s\n%s\n%s\n", r.rule("="), title, r.rule("="))
}

func (r *Report) Footer(message string) {
	fmt.Fprintf(r.w, "\n%s\n%s\n%s\n\n", r.rule("="), message, r.rule("="))
}

// Field prints one aligned "label: value" line.
func (r *Report) Field(label string, value any) {
	fmt.Fprintf(r.w, "%-*s%v\n", fieldWidth, label+":", value)
}

func (r *Report) AccountHeader(account AccountInfo, progress *models.Progress) {
	fmt.Fprintf(r.w, "\n┌─ Account: %s (%s)\n", account.DisplayName, account.ExternalId)
	fmt.Fprintf(r.w, "│  ID: %s\n", account.Id)
	fmt.Fprintf(r.w, "│  Balance: %d\n", account.Balance)
	if progress != nil {
		fmt.Fprintf(r.w, "│  Corrections: %d  Translations: %d  Errors: %d\n",
			progress.TotalCorrections, progress.TotalTranslations, progress.TotalErrors)
	}
	fmt.Fprintln(r.w, "├"+strings.Repeat("─", r.width-2))
}

// Transaction prints one ledger row as a tree item under the account header.
func (r *Report) Transaction(txn models.Transaction, isLast bool) {
	prefix := "│  "
	if isLast {
		prefix = "└  "
	}
	fmt.Fprintf(r.w, "%s %-14s %+6d -> %6d (tx: %s, at: %s)\n",
		prefix,
		txn.Reason,
		txn.Amount,
		txn.BalanceAfter,
		ShortId(txn.Id),
		txn.CreatedAt.Format(timestampLayout))
}

// Warning prints an indented "!" line, used for drift and mismatch notes.
func (r *Report) Warning(format string, args ...any) {
	fmt.Fprintf(r.w, "   ! "+format+"\n", args...)
}

func (r *Report) rule(char string) string {
	return strings.Repeat(char, r.width)
}

// ShortId truncates ids to eight characters for display.
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
