package db

import (
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cyverse-de/dbutil"
	"github.com/pkg/errors"

	// Database drivers, one per supported dialect.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL database that stores inquiries.
type Dialect string

const (
	// Postgres stores inquiries in PostgreSQL using the lib/pq driver.
	Postgres Dialect = "postgres"

	// PGX stores inquiries in PostgreSQL using the pgx driver.
	PGX Dialect = "pgx"

	// SQLite stores inquiries in a local SQLite database file.
	SQLite Dialect = "sqlite"
)

// ParseDialect converts a configured dialect name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(name))) {
	case Postgres, "postgresql", "":
		return Postgres, nil
	case PGX:
		return PGX, nil
	case SQLite, "sqlite3":
		return SQLite, nil
	default:
		return "", errors.Errorf("unsupported database dialect: %s", name)
	}
}

// DriverName returns the name of the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// PlaceholderFormat returns the bind parameter format that the dialect understands.
func (d Dialect) PlaceholderFormat() sq.PlaceholderFormat {
	if d == SQLite {
		return sq.Question
	}
	return sq.Dollar
}

// InitDatabase establishes a database connection and verifies that the database can be reached. The timeout is a
// duration string that limits how long the connector keeps retrying.
func InitDatabase(dialect Dialect, databaseURI, timeout string) (*sql.DB, error) {
	wrapMsg := "unable to initialize the database"

	if timeout == "" {
		timeout = "1m"
	}

	// Create a database connector to establish the connection.
	connector, err := dbutil.NewDefaultConnector(timeout)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Establish the database connection.
	db, err := connector.Connect(dialect.DriverName(), databaseURI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// SQLite allows only one writer at a time.
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}
