// Package seed loads fixture users and tickets into the repositories.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/repository"
)

//go:embed demo.yaml
var demoFixture []byte

const dateLayout = "2006-01-02"

// ticketNamespace scopes the name-based ids given to fixture tickets.
var ticketNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ticket-tracker:seed:ticket"))

// ticketID derives a stable id from the fields that identify a fixture
// ticket, so re-applying a fixture finds the tickets it already wrote.
func ticketID(t TicketFixture) string {
	key := normalizeEmail(t.CreatedBy) + "|" + strings.TrimSpace(t.Title) + "|" + t.CreatedAt
	return uuid.NewSHA1(ticketNamespace, []byte(key)).String()
}

// Fixture is the YAML document shape.
type Fixture struct {
	Users   []UserFixture   `yaml:"users"`
	Tickets []TicketFixture `yaml:"tickets"`
}

// UserFixture describes one seeded account.
type UserFixture struct {
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Role      string `yaml:"role"`
	CreatedAt string `yaml:"created_at"`
}

// TicketFixture describes one seeded ticket. Dates are YYYY-MM-DD.
type TicketFixture struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
	Priority    string `yaml:"priority"`
	CreatedBy   string `yaml:"created_by"`
	AssignedTo  string `yaml:"assigned_to"`
	CreatedAt   string `yaml:"created_at"`
	UpdatedAt   string `yaml:"updated_at"`
}

// Repositories are the stores a fixture is written to.
type Repositories struct {
	Users   repository.UserRepository
	Tickets repository.TicketRepository
}

// Demo returns the built-in demo fixture.
func Demo() (*Fixture, error) {
	return Parse(demoFixture)
}

// LoadFile reads a fixture from a YAML file.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML fixture.
func Parse(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := fixture.Validate(); err != nil {
		return nil, err
	}
	return &fixture, nil
}

// Validate checks enums, dates and that ticket owners are seeded users.
func (f *Fixture) Validate() error {
	emails := make(map[string]struct{}, len(f.Users))
	var errs []error
	for i, u := range f.Users {
		email := normalizeEmail(u.Email)
		if email == "" || u.Name == "" || u.Password == "" {
			errs = append(errs, fmt.Errorf("users[%d]: name, email and password required", i))
		}
		if !domain.Role(strings.ToUpper(u.Role)).Valid() {
			errs = append(errs, fmt.Errorf("users[%d]: unknown role %q", i, u.Role))
		}
		if _, dup := emails[email]; dup {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate email %q", i, email))
		}
		emails[email] = struct{}{}
		if _, err := parseDate(u.CreatedAt); err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: %w", i, err))
		}
	}
	ticketIDs := make(map[string]int, len(f.Tickets))
	for i, t := range f.Tickets {
		id := ticketID(t)
		if first, dup := ticketIDs[id]; dup {
			errs = append(errs, fmt.Errorf("tickets[%d]: same owner, title and created_at as tickets[%d]", i, first))
		}
		ticketIDs[id] = i
		if t.Title == "" || t.Description == "" {
			errs = append(errs, fmt.Errorf("tickets[%d]: title and description required", i))
		}
		if !domain.TicketStatus(strings.ToUpper(t.Status)).Valid() {
			errs = append(errs, fmt.Errorf("tickets[%d]: unknown status %q", i, t.Status))
		}
		if !domain.TicketPriority(strings.ToUpper(t.Priority)).Valid() {
			errs = append(errs, fmt.Errorf("tickets[%d]: unknown priority %q", i, t.Priority))
		}
		if _, ok := emails[normalizeEmail(t.CreatedBy)]; !ok {
			errs = append(errs, fmt.Errorf("tickets[%d]: created_by %q is not a seeded user", i, t.CreatedBy))
		}
		if t.AssignedTo != "" {
			if _, ok := emails[normalizeEmail(t.AssignedTo)]; !ok {
				errs = append(errs, fmt.Errorf("tickets[%d]: assigned_to %q is not a seeded user", i, t.AssignedTo))
			}
		}
		created, err := parseDate(t.CreatedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("tickets[%d]: %w", i, err))
			continue
		}
		updated, err := parseDate(t.UpdatedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("tickets[%d]: %w", i, err))
			continue
		}
		if !created.IsZero() && !updated.IsZero() && updated.Before(created) {
			errs = append(errs, fmt.Errorf("tickets[%d]: updated_at before created_at", i))
		}
	}
	return errors.Join(errs...)
}

// Apply writes the fixture into repos. Users whose email already exists and
// tickets whose fixture id already exists are skipped, so a fixture can be
// applied on every boot. Missing dates default to now.
func Apply(ctx context.Context, f *Fixture, repos Repositories, bcryptCost int, now time.Time, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	created, createdTickets := 0, 0
	for i, u := range f.Users {
		hash, err := auth.HashPassword(u.Password, bcryptCost)
		if err != nil {
			return fmt.Errorf("users[%d]: hash password: %w", i, err)
		}
		createdAt, _ := parseDate(u.CreatedAt)
		user := &domain.User{
			ID:           uuid.NewString(),
			Name:         u.Name,
			Email:        normalizeEmail(u.Email),
			PasswordHash: hash,
			Role:         domain.Role(strings.ToUpper(u.Role)),
			CreatedAt:    orNow(createdAt, now),
		}
		if err := repos.Users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				logger.Debug("seed user exists", zap.String("email", user.Email))
				continue
			}
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		created++
	}

	for i, t := range f.Tickets {
		createdAt, _ := parseDate(t.CreatedAt)
		updatedAt, _ := parseDate(t.UpdatedAt)
		ticket := &domain.Ticket{
			ID:          ticketID(t),
			Title:       t.Title,
			Description: t.Description,
			Status:      domain.TicketStatus(strings.ToUpper(t.Status)),
			Priority:    domain.TicketPriority(strings.ToUpper(t.Priority)),
			CreatedBy:   normalizeEmail(t.CreatedBy),
			CreatedAt:   orNow(createdAt, now),
			UpdatedAt:   orNow(updatedAt, now),
			Version:     1,
		}
		if t.AssignedTo != "" {
			assignee := normalizeEmail(t.AssignedTo)
			ticket.AssignedTo = &assignee
		}
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			if errors.Is(err, repository.ErrDuplicateID) {
				logger.Debug("seed ticket exists", zap.String("ticket_id", ticket.ID))
				continue
			}
			return fmt.Errorf("tickets[%d]: %w", i, err)
		}
		createdTickets++
	}

	logger.Info("seed applied", zap.Int("users", created), zap.Int("tickets", createdTickets))
	return nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
