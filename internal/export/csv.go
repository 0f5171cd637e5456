// Package export renders ticket views as downloadable files.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

const (
	// ContentType is the MIME type of CSV exports.
	ContentType = "text/csv; charset=utf-8"
	// Unassigned fills the assignee column for tickets without one.
	Unassigned = "Unassigned"
	dateLayout = "2006-01-02"
)

// Header is the column contract consumed by downstream tools. Do not reorder.
var Header = []string{
	"Ticket ID",
	"Title",
	"Description",
	"Status",
	"Priority",
	"Created By",
	"Assigned To",
	"Created Date",
	"Updated Date",
}

// Filename returns the download name for an export taken on the given date.
func Filename(on time.Time) string {
	return fmt.Sprintf("tickets_export_%s.csv", on.UTC().Format(dateLayout))
}

// WriteCSV writes the header and one row per ticket. Every field is quoted
// and embedded quotes are doubled; rows end with "\n".
func WriteCSV(w io.Writer, tickets []domain.Ticket) error {
	bw := bufio.NewWriter(w)
	if err := writeRow(bw, Header); err != nil {
		return err
	}
	for i := range tickets {
		if err := writeRow(bw, Row(&tickets[i])); err != nil {
			return fmt.Errorf("write ticket %s: %w", tickets[i].ID, err)
		}
	}
	return bw.Flush()
}

// CSV renders tickets into a string.
func CSV(tickets []domain.Ticket) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, tickets); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Row returns the unquoted field values for a ticket in Header order.
func Row(ticket *domain.Ticket) []string {
	assignee := Unassigned
	if ticket.AssignedTo != nil && *ticket.AssignedTo != "" {
		assignee = *ticket.AssignedTo
	}
	return []string{
		ticket.ID,
		ticket.Title,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.CreatedBy,
		assignee,
		ticket.CreatedAt.UTC().Format(dateLayout),
		ticket.UpdatedAt.UTC().Format(dateLayout),
	}
}

func writeRow(w *bufio.Writer, fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quote(field)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
