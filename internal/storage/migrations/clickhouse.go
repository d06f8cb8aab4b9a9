package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strings"

	chstore "security-risk-lab/internal/storage/clickhouse"
)

var databaseName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunClickhouseMigrations creates the telemetry database named in dsn,
// applies the embedded schema and returns a connection to that database.
// The schema uses IF NOT EXISTS throughout and is applied on every start.
// opts apply to the returned connection only.
func RunClickhouseMigrations(ctx context.Context, dsn string, opts ...chstore.Option) (_ *chstore.Conn, err error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		stmts, err := clickhouseStatements(file)
		if err != nil {
			return nil, err
		}
		for i, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply migration %s (statement %d): %w", file, i+1, err)
			}
		}
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, name string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+name); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// clickhouseStatements reads one embedded file and splits it, since the
// native protocol accepts a single statement per Exec.
func clickhouseStatements(file string) ([]string, error) {
	data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
	if err != nil {
		return nil, fmt.Errorf("read migration %s: %w", file, err)
	}
	sql := string(data)
	if err := validateNoSemicolonInStrings(sql); err != nil {
		return nil, fmt.Errorf("migration %s: %w", file, err)
	}
	return splitStatements(sql), nil
}

// splitStatements drops blank and -- comment lines and splits on semicolons.
// Block comments are not supported.
func splitStatements(input string) []string {
	var body strings.Builder
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(body.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects a semicolon inside a single-quoted
// literal. A doubled quote is an escape, not a terminator.
func validateNoSemicolonInStrings(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("semicolon inside string literal at byte %d", i)
			}
		}
	}
	return nil
}

// databaseFromDSN returns the path component of dsn. It must be a plain
// identifier since it is interpolated into CREATE DATABASE.
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn has no database")
	}
	if !databaseName.MatchString(db) {
		return "", fmt.Errorf("invalid clickhouse database name %q", db)
	}
	return db, nil
}
