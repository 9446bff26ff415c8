package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
)

// inquiryColumns lists the columns of the inquiries table in the order in which scanInquiry expects them.
var inquiryColumns = []string{"id", "name", "email", "mobile", "message", "is_read", "created_at"}

// Database provides access to the inquiries table.
type Database struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	dialect Dialect
}

// New returns a Database that builds statements for the given dialect.
func New(db *sql.DB, dialect Dialect) *Database {
	return &Database{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(dialect.PlaceholderFormat()),
		dialect: dialect,
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInquiry(row rowScanner) (model.Inquiry, error) {
	var inquiry model.Inquiry
	err := row.Scan(
		&inquiry.ID,
		&inquiry.Name,
		&inquiry.Email,
		&inquiry.Mobile,
		&inquiry.Message,
		&inquiry.IsRead,
		&inquiry.CreatedAt,
	)
	inquiry.CreatedAt = inquiry.CreatedAt.UTC()
	return inquiry, err
}

// Ping verifies that the database can still be reached.
func (d *Database) Ping(ctx context.Context) error {
	return errors.Wrap(d.db.PingContext(ctx), "unable to reach the database")
}

// SaveInquiry inserts a single inquiry. The caller assigns the ID and creation timestamp.
func (d *Database) SaveInquiry(ctx context.Context, inquiry *model.Inquiry) error {
	wrapMsg := "unable to save inquiry"

	// Build the statement to insert the inquiry.
	statement, args, err := d.builder.
		Insert("inquiries").
		Columns(inquiryColumns...).
		Values(
			inquiry.ID,
			inquiry.Name,
			inquiry.Email,
			inquiry.Mobile,
			inquiry.Message,
			inquiry.IsRead,
			inquiry.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	// Execute the statement and verify that exactly one row was inserted.
	result, err := d.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("%s: unexpected number of rows affected: %d", wrapMsg, rowsAffected)
	}

	return nil
}

// listInquiries runs a SELECT over the inquiries table and scans every row.
func (d *Database) listInquiries(ctx context.Context, query sq.SelectBuilder, wrapMsg string) ([]model.Inquiry, error) {
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := d.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	inquiries := make([]model.Inquiry, 0)
	for rows.Next() {
		inquiry, err := scanInquiry(rows)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		inquiries = append(inquiries, inquiry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	return inquiries, nil
}

// ListInquiries returns every inquiry, newest first.
func (d *Database) ListInquiries(ctx context.Context) ([]model.Inquiry, error) {
	query := d.builder.
		Select(inquiryColumns...).
		From("inquiries").
		OrderBy("created_at DESC")
	return d.listInquiries(ctx, query, "unable to list inquiries")
}

// ListInquiriesCreatedSince returns the inquiries created at or after the given time, oldest first.
func (d *Database) ListInquiriesCreatedSince(ctx context.Context, since time.Time) ([]model.Inquiry, error) {
	query := d.builder.
		Select(inquiryColumns...).
		From("inquiries").
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		OrderBy("created_at ASC")
	return d.listInquiries(ctx, query, "unable to list new inquiries")
}

// GetInquiry returns a single inquiry. model.ErrNotFound is returned if the inquiry doesn't exist.
func (d *Database) GetInquiry(ctx context.Context, id string) (model.Inquiry, error) {
	wrapMsg := fmt.Sprintf("unable to get inquiry `%s`", id)

	statement, args, err := d.builder.
		Select(inquiryColumns...).
		From("inquiries").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}

	inquiry, err := scanInquiry(d.db.QueryRowContext(ctx, statement, args...))
	if err == sql.ErrNoRows {
		return model.Inquiry{}, errors.Wrap(model.ErrNotFound, wrapMsg)
	}
	if err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}

	return inquiry, nil
}

// MarkRead sets the read flag of an inquiry and returns the updated inquiry. Marking an inquiry that has already been
// read succeeds without changing it. model.ErrNotFound is returned if the inquiry doesn't exist.
func (d *Database) MarkRead(ctx context.Context, id string) (model.Inquiry, error) {
	wrapMsg := fmt.Sprintf("unable to mark inquiry `%s` as read", id)

	statement, args, err := d.builder.
		Update("inquiries").
		Set("is_read", true).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, name, email, mobile, message, is_read, created_at").
		ToSql()
	if err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}

	inquiry, err := scanInquiry(d.db.QueryRowContext(ctx, statement, args...))
	if err == sql.ErrNoRows {
		return model.Inquiry{}, errors.Wrap(model.ErrNotFound, wrapMsg)
	}
	if err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}

	return inquiry, nil
}

// count runs a count(*) query over the inquiries table.
func (d *Database) count(ctx context.Context, query sq.SelectBuilder, wrapMsg string) (int64, error) {
	statement, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	var total int64
	err = d.db.QueryRowContext(ctx, statement, args...).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, wrapMsg)
	}

	return total, nil
}

// CountUnread counts the inquiries that haven't been marked as read.
func (d *Database) CountUnread(ctx context.Context) (int64, error) {
	query := d.builder.
		Select("count(*)").
		From("inquiries").
		Where(sq.Eq{"is_read": false})
	return d.count(ctx, query, "unable to count unread inquiries")
}

// CountInquiries counts all inquiries.
func (d *Database) CountInquiries(ctx context.Context) (int64, error) {
	query := d.builder.
		Select("count(*)").
		From("inquiries")
	return d.count(ctx, query, "unable to count inquiries")
}

// LatestCreatedAt returns the creation timestamp of the newest inquiry. The boolean result is false if there are no
// inquiries.
func (d *Database) LatestCreatedAt(ctx context.Context) (time.Time, bool, error) {
	wrapMsg := "unable to find the newest inquiry"

	statement, args, err := d.builder.
		Select("created_at").
		From("inquiries").
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, wrapMsg)
	}

	var createdAt time.Time
	err = d.db.QueryRowContext(ctx, statement, args...).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, wrapMsg)
	}

	return createdAt.UTC(), true, nil
}
