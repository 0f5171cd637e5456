package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

const headerLine = `"Ticket ID","Title","Description","Status","Priority","Created By","Assigned To","Created Date","Updated Date"`

func TestCSVEmptyHasHeaderOnly(t *testing.T) {
	out, err := CSV(nil)
	require.NoError(t, err)
	assert.Equal(t, headerLine+"\n", out)
}

func TestCSVRows(t *testing.T) {
	assignee := "admin@example.com"
	tickets := []domain.Ticket{
		{
			ID:          "t-1",
			Title:       "Login Issue",
			Description: `He said "hi"`,
			Status:      domain.TicketStatusOpen,
			Priority:    domain.TicketPriorityHigh,
			CreatedBy:   "user@example.com",
			CreatedAt:   time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC),
			UpdatedAt:   time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
		},
		{
			ID:          "t-2",
			Title:       "Comma, newline\nand more",
			Description: "Need dark mode",
			Status:      domain.TicketStatusInProgress,
			Priority:    domain.TicketPriorityMedium,
			CreatedBy:   "user2@example.com",
			AssignedTo:  &assignee,
			CreatedAt:   time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
			UpdatedAt:   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		},
	}

	out, err := CSV(tickets)
	require.NoError(t, err)

	want := headerLine + "\n" +
		`"t-1","Login Issue","He said ""hi""","OPEN","HIGH","user@example.com","Unassigned","2024-01-15","2024-01-16"` + "\n" +
		`"t-2","Comma, newline` + "\n" + `and more","Need dark mode","IN_PROGRESS","MEDIUM","user2@example.com","admin@example.com","2024-01-14","2024-01-16"` + "\n"
	assert.Equal(t, want, out)
}

func TestCSVUsesUTCDates(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*60*60)
	ticket := domain.Ticket{
		ID:        "t",
		CreatedAt: time.Date(2024, 3, 2, 2, 0, 0, 0, zone),
		UpdatedAt: time.Date(2024, 3, 2, 2, 0, 0, 0, zone),
	}
	row := Row(&ticket)
	assert.Equal(t, "2024-03-01", row[7])
	assert.Equal(t, "2024-03-01", row[8])
}

func TestRowTreatsEmptyAssigneeAsUnassigned(t *testing.T) {
	empty := ""
	row := Row(&domain.Ticket{AssignedTo: &empty})
	assert.Equal(t, Unassigned, row[6])
	assert.Len(t, row, len(Header))
}

func TestWriteCSVLineCount(t *testing.T) {
	tickets := make([]domain.Ticket, 5)
	for i := range tickets {
		tickets[i] = domain.Ticket{ID: string(rune('a' + i)), Title: "t"}
	}
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, tickets))
	assert.Equal(t, 6, strings.Count(sb.String(), "\n"))
}

func TestFilename(t *testing.T) {
	on := time.Date(2024, 1, 20, 18, 45, 0, 0, time.UTC)
	assert.Equal(t, "tickets_export_2024-01-20.csv", Filename(on))
}
