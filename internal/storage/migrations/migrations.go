// Package migrations applies the embedded trade_outcomes schema.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"

	chstore "pumpsniper/internal/storage/clickhouse"
	"pumpsniper/internal/storage/postgres"
)

// Embedded schema files, applied in lexical order.
var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)

// execFunc runs one migration payload.
type execFunc func(ctx context.Context, sql string) error

// RunPostgresMigrations applies every embedded postgres file in lexical
// order. Each file is sent as one multi-statement payload, so files must
// be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	return apply(ctx, PostgresFS, "postgres", func(ctx context.Context, sql string) error {
		_, err := pool.Exec(ctx, sql)
		return err
	}, false)
}

// RunClickhouseMigrations creates the DSN's database if needed, applies the
// embedded clickhouse files statement by statement and returns a connection
// to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName))
	closeErr := admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close admin connection: %w", closeErr)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	// the clickhouse driver rejects multi-statement Exec
	if err := apply(ctx, ClickhouseFS, "clickhouse", func(ctx context.Context, sql string) error {
		return conn.Exec(ctx, sql)
	}, true); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// apply runs the .sql files under dir of fsys in lexical order.
func apply(ctx context.Context, fsys fs.FS, dir string, exec execFunc, split bool) error {
	files, err := sqlFiles(fsys, dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		body := string(data)
		if strings.TrimSpace(body) == "" {
			continue
		}

		stmts := []string{body}
		if split {
			if err := validateNoSemicolonInStrings(body); err != nil {
				return fmt.Errorf("validate migration %s: %w", file, err)
			}
			stmts = splitStatements(body)
		}
		for _, stmt := range stmts {
			if err := exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}

func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits on ";" after dropping blank and "--" comment
// lines. Semicolons inside string literals are not supported; see
// validateNoSemicolonInStrings.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects a ";" inside a single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
