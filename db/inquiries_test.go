package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const testID = "a6a97fd2-74c5-42af-ab22-0549a63d3abd"

func getTestTimestamp() time.Time {
	return time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC)
}

func newInquiryRows() *sqlmock.Rows {
	return sqlmock.NewRows(inquiryColumns)
}

func addInquiryRow(rows *sqlmock.Rows, id string, isRead bool, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "John Doe", "john.doe@example.com", "+1 (555) 123-4567", "Pricing?", isRead, createdAt)
}

func newMockDatabase(t *testing.T, dialect Dialect) (*Database, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unable to open the mock database connection: %s", err)
	}
	return New(sqlDB, dialect), mock, func() { sqlDB.Close() }
}

func TestParseDialect(t *testing.T) {
	assert := assert.New(t)

	for name, expected := range map[string]Dialect{
		"":           Postgres,
		"postgres":   Postgres,
		"PostgreSQL": Postgres,
		"pgx":        PGX,
		"sqlite":     SQLite,
		"sqlite3":    SQLite,
	} {
		actual, err := ParseDialect(name)
		assert.NoError(err, "unexpected error for dialect %q", name)
		assert.Equal(expected, actual, "incorrect dialect for %q", name)
	}

	_, err := ParseDialect("oracle")
	assert.Error(err)
}

func TestCountUnread(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	// Set up the expectations.
	rows := sqlmock.NewRows([]string{"count"}).AddRow(3)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM inquiries WHERE is_read = \\$1").
		WithArgs(false).
		WillReturnRows(rows)

	// Count the unread inquiries.
	count, err := database.CountUnread(ctx)
	assert.NoError(err, "unexpected error occurred while counting unread inquiries")
	assert.Equal(int64(3), count)

	// Verify that all mock expectations were met.
	assert.NoError(mock.ExpectationsWereMet(), "not all mock expectations were met")
}

func TestCountUnreadSQLitePlaceholders(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, SQLite)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM inquiries WHERE is_read = \\?").
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	count, err := database.CountUnread(context.Background())
	assert.NoError(err)
	assert.Equal(int64(0), count)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestCountUnreadFailure(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM inquiries").
		WillReturnError(errors.New("connection refused"))

	_, err := database.CountUnread(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unable to count unread inquiries")
}

func TestCountInquiries(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM inquiries$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := database.CountInquiries(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInquiries(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	newer := getTestTimestamp()
	older := newer.Add(-time.Hour)
	rows := newInquiryRows()
	addInquiryRow(rows, "b", false, newer)
	addInquiryRow(rows, "a", true, older)
	mock.ExpectQuery("SELECT id, name, email, mobile, message, is_read, created_at FROM inquiries ORDER BY created_at DESC").
		WillReturnRows(rows)

	inquiries, err := database.ListInquiries(context.Background())
	assert.NoError(err)
	if assert.Len(inquiries, 2) {
		assert.Equal("b", inquiries[0].ID)
		assert.False(inquiries[0].IsRead)
		assert.True(newer.Equal(inquiries[0].CreatedAt))
		assert.Equal("a", inquiries[1].ID)
		assert.True(inquiries[1].IsRead)
	}
	assert.NoError(mock.ExpectationsWereMet())
}

func TestListInquiriesEmpty(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM inquiries").WillReturnRows(newInquiryRows())

	inquiries, err := database.ListInquiries(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, inquiries, "an empty list must not be nil so that it encodes as []")
	assert.Empty(t, inquiries)
}

func TestListInquiriesCreatedSince(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	watermark := getTestTimestamp()
	rows := addInquiryRow(newInquiryRows(), testID, false, watermark)
	mock.ExpectQuery("SELECT (.+) FROM inquiries WHERE created_at >= \\$1 ORDER BY created_at ASC").
		WithArgs(watermark).
		WillReturnRows(rows)

	inquiries, err := database.ListInquiriesCreatedSince(context.Background(), watermark)
	assert.NoError(err)
	if assert.Len(inquiries, 1) {
		assert.Equal(testID, inquiries[0].ID)
	}
	assert.NoError(mock.ExpectationsWereMet())
}

func TestGetInquiry(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM inquiries WHERE id = \\$1").
		WithArgs(testID).
		WillReturnRows(addInquiryRow(newInquiryRows(), testID, false, getTestTimestamp()))

	inquiry, err := database.GetInquiry(context.Background(), testID)
	assert.NoError(err)
	assert.Equal(testID, inquiry.ID)
	assert.Equal("john.doe@example.com", inquiry.Email)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestGetInquiryNotFound(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM inquiries WHERE id = \\$1").
		WithArgs("unknown-id").
		WillReturnError(sql.ErrNoRows)

	_, err := database.GetInquiry(context.Background(), "unknown-id")
	assert.True(t, errors.Is(err, model.ErrNotFound), "unexpected error: %v", err)
}

func TestMarkRead(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("UPDATE inquiries SET is_read = \\$1 WHERE id = \\$2 RETURNING id, name, email, mobile, message, is_read, created_at").
		WithArgs(true, testID).
		WillReturnRows(addInquiryRow(newInquiryRows(), testID, true, getTestTimestamp()))

	inquiry, err := database.MarkRead(context.Background(), testID)
	assert.NoError(err)
	assert.True(inquiry.IsRead)
	assert.Equal(testID, inquiry.ID)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestMarkReadNotFound(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("UPDATE inquiries SET is_read").
		WithArgs(true, "unknown-id").
		WillReturnRows(newInquiryRows())

	_, err := database.MarkRead(context.Background(), "unknown-id")
	assert.True(t, errors.Is(err, model.ErrNotFound), "unexpected error: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInquiry(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	inquiry := &model.Inquiry{
		ID:        testID,
		Name:      "Jane Smith",
		Email:     "jane.smith@example.com",
		Mobile:    "+1 (555) 987-6543",
		Message:   "Hello",
		CreatedAt: getTestTimestamp(),
	}
	mock.ExpectExec("INSERT INTO inquiries").
		WithArgs(testID, "Jane Smith", "jane.smith@example.com", "+1 (555) 987-6543", "Hello", false, getTestTimestamp()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, database.SaveInquiry(context.Background(), inquiry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInquiryUnexpectedRowCount(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectExec("INSERT INTO inquiries").WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.SaveInquiry(context.Background(), &model.Inquiry{ID: testID, CreatedAt: getTestTimestamp()})
	assert.Error(t, err)
}

func TestLatestCreatedAt(t *testing.T) {
	assert := assert.New(t)

	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT created_at FROM inquiries ORDER BY created_at DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(getTestTimestamp()))

	latest, ok, err := database.LatestCreatedAt(context.Background())
	assert.NoError(err)
	assert.True(ok)
	assert.True(getTestTimestamp().Equal(latest))
	assert.NoError(mock.ExpectationsWereMet())
}

func TestLatestCreatedAtEmptyTable(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectQuery("SELECT created_at FROM inquiries").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	_, ok, err := database.LatestCreatedAt(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrate(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, Postgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inquiries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS inquiries_is_read_index").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS inquiries_created_at_index").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	assert.NoError(t, database.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	database, mock, cleanup := newMockDatabase(t, SQLite)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inquiries").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	assert.Error(t, database.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
