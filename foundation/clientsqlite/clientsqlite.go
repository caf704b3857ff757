package clientsqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// migrate will be executed every time the New function is
// called. For this reason it must be crafted in a way that it
// doesn't create duplicate data.
//
//go:embed sql/clientmigrate.sql
var migrate string

const queryTimeout = 2 * time.Second

type ClientSqlite struct {
	db *sql.DB
}

func New(filePath string) (*ClientSqlite, error) {
	const connectionParams = "?_pragma=busy_timeout(1000)&_pragma=journal_mode(WAL)"

	dataSourceName := fmt.Sprintf("%s%s", filePath, connectionParams)
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open connection: %q: %w", dataSourceName, err)
	}

	cln := ClientSqlite{
		db: db,
	}

	if _, err := cln.db.Exec(migrate); err != nil {
		return nil, fmt.Errorf("exec migration: %w", err)
	}

	return &cln, nil
}

func (cln *ClientSqlite) Close() error {
	return cln.db.Close()
}

func (cln *ClientSqlite) Create(query string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := cln.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	return nil
}

// Query runs the query and invokes scan once per row. The callback owns the
// rows.Scan call since only the caller knows the column layout.
func (cln *ClientSqlite) Query(query string, params []any, scan func(rows *sql.Rows) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := cln.db.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}

	return rows.Err()
}

func (cln *ClientSqlite) QueryRow(query string, params []any, fields ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	row := cln.db.QueryRowContext(ctx, query, params...)
	return row.Scan(fields...)
}

// Execute runs a statement where no result is expected back
func (cln *ClientSqlite) Execute(query string, params ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := cln.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("execute query %q: %w", query, err)
	}
	return nil
}
