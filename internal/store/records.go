// ABOUTME: SQLite persistence for issues and flight bookings
// ABOUTME: Rows are always scoped to the owning user

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateIssue inserts an issue. Empty priority and status get defaults.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *Issue) error {
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = issue.CreatedAt
	if issue.Priority == "" {
		issue.Priority = "medium"
	}
	if issue.Status == "" {
		issue.Status = IssueOpen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, workflow_id, user_id, title, description, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		issue.ID,
		issue.WorkflowID,
		issue.UserID,
		issue.Title,
		issue.Description,
		issue.Priority,
		issue.Status,
		formatTime(issue.CreatedAt),
		formatTime(issue.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("issue %s: %w", issue.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting issue: %w", err)
	}
	s.logger.Debug("created issue", "id", issue.ID, "user_id", issue.UserID)
	return nil
}

const issueColumns = `id, workflow_id, user_id, title, description, priority, status, created_at, updated_at`

func scanIssue(row rowScanner) (*Issue, error) {
	var is Issue
	var createdAt, updatedAt string
	if err := row.Scan(
		&is.ID, &is.WorkflowID, &is.UserID, &is.Title, &is.Description,
		&is.Priority, &is.Status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if is.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if is.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &is, nil
}

// ListIssues returns a user's issues, newest first. An empty status matches all.
func (s *SQLiteStore) ListIssues(ctx context.Context, userID, status string) ([]*Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var out []*Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning issue row: %w", err)
		}
		out = append(out, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating issue rows: %w", err)
	}
	return out, nil
}

// UpdateIssueStatus changes the status of a user's issue.
// Returns ErrNotFound if the issue doesn't exist or belongs to someone else.
func (s *SQLiteStore) UpdateIssueStatus(ctx context.Context, id, userID, status string) (*Issue, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		status, formatTime(time.Now()), id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating issue: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	is, err := scanIssue(s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reloading issue: %w", err)
	}
	return is, nil
}

// CreateBooking inserts a booking.
func (s *SQLiteStore) CreateBooking(ctx context.Context, b *Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Status == "" {
		b.Status = BookingConfirmed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, workflow_id, user_id, flight_id, passenger, origin, destination, departure, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.WorkflowID,
		b.UserID,
		b.FlightID,
		b.Passenger,
		b.Origin,
		b.Destination,
		formatTime(b.Departure),
		b.Status,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}
	s.logger.Debug("created booking", "id", b.ID, "flight_id", b.FlightID, "user_id", b.UserID)
	return nil
}

const bookingColumns = `id, workflow_id, user_id, flight_id, passenger, origin, destination, departure, status, created_at`

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var departure, createdAt string
	if err := row.Scan(
		&b.ID, &b.WorkflowID, &b.UserID, &b.FlightID, &b.Passenger,
		&b.Origin, &b.Destination, &departure, &b.Status, &createdAt,
	); err != nil {
		return nil, err
	}
	var err error
	if b.Departure, err = parseTime(departure); err != nil {
		return nil, fmt.Errorf("parsing departure: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &b, nil
}

// ListBookings returns a user's bookings ordered by departure.
func (s *SQLiteStore) ListBookings(ctx context.Context, userID string) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY departure, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating booking rows: %w", err)
	}
	return out, nil
}

// CancelBooking cancels a user's booking.
// Returns ErrNotFound if the booking doesn't exist or belongs to someone else.
func (s *SQLiteStore) CancelBooking(ctx context.Context, id, userID string) (*Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	if b.Status == BookingCancelled {
		return b, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE id = ?`, BookingCancelled, id,
	); err != nil {
		return nil, fmt.Errorf("cancelling booking: %w", err)
	}
	b.Status = BookingCancelled
	s.logger.Debug("cancelled booking", "id", id)
	return b, nil
}
