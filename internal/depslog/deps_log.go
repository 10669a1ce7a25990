// Package depslog is the durable store of implicit dependencies the
// scanner discovered from depfiles or /showIncludes output on a
// previous build, so a later build can recompute dirty state without
// re-running every compiler to rediscover the same includes.
package depslog

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"buildcore/internal/clock"
)

// Deps is one recorded dependency set: the mtime of the output at the
// time its deps were recorded, and the ordered list of dependency
// paths (the scanner only ever needs the set, but order is preserved
// for stable diagnostics).
type Deps struct {
	Mtime clock.TimeStamp
	Nodes []string
}

// Log is the DepsLog collaborator, backed by a zombiezen/go/sqlite
// connection rather than gorm: deps records are append-mostly and keyed
// by a simple (output, node) junction table, which raw prepared
// statements express more directly than an ORM would.
type Log struct {
	conn *sqlite.Conn
}

func Open(path string) (*Log, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, err
	}
	l := &Log{conn: conn}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Close() error { return l.conn.Close() }

func (l *Log) migrate() error {
	return sqlitex.ExecuteScript(l.conn, `
		CREATE TABLE IF NOT EXISTS deps_output (
			output TEXT PRIMARY KEY,
			mtime INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS deps_node (
			output TEXT NOT NULL,
			seq INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (output, seq)
		);
	`, nil)
}

// GetDeps returns the last recorded dependency set for output, or nil
// if depslog has never recorded one.
func (l *Log) GetDeps(output string) (*Deps, error) {
	var d *Deps
	err := sqlitex.Execute(l.conn, `SELECT mtime FROM deps_output WHERE output = ?`,
		&sqlitex.ExecOptions{
			Args: []any{output},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				d = &Deps{Mtime: clock.TimeStamp(stmt.GetInt64("mtime"))}
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	err = sqlitex.Execute(l.conn, `SELECT path FROM deps_node WHERE output = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{output},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				d.Nodes = append(d.Nodes, stmt.GetText("path"))
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// RecordDeps replaces the recorded dependency set for output. Real
// ninja appends and compacts later; this store simply overwrites,
// which is semantically identical for a single-process build run and
// avoids needing a separate recompact path.
func (l *Log) RecordDeps(output string, mtime clock.TimeStamp, nodes []string) error {
	if err := sqlitex.Execute(l.conn, `DELETE FROM deps_node WHERE output = ?`,
		&sqlitex.ExecOptions{Args: []any{output}}); err != nil {
		return err
	}
	if err := sqlitex.Execute(l.conn,
		`INSERT INTO deps_output(output, mtime) VALUES (?, ?)
		 ON CONFLICT(output) DO UPDATE SET mtime = excluded.mtime`,
		&sqlitex.ExecOptions{Args: []any{output, int64(mtime)}}); err != nil {
		return err
	}
	for i, n := range nodes {
		if err := sqlitex.Execute(l.conn,
			`INSERT INTO deps_node(output, seq, path) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{output, i, n}}); err != nil {
			return fmt.Errorf("recording dep %d of %s: %w", i, output, err)
		}
	}
	return nil
}
