// Package buildlog is the durable per-output record of the last command
// hash and mtime a successful build recorded for that output, backed by
// a SQLite table through gorm. It is an external collaborator per spec
// §6 -- the scanner only ever calls LookupByOutput, the builder only
// ever calls RecordCommand.
package buildlog

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"buildcore/internal/clock"
)

// Entry is the gorm model backing one row: the last mtime observed for
// Output and the hash of the command that produced it.
type Entry struct {
	Output      string `gorm:"primaryKey"`
	CommandHash uint64
	Mtime       int64
	StartMillis int64
	EndMillis   int64
}

func (Entry) TableName() string { return "build_log_entry" }

// Log is the BuildLog collaborator. An in-memory cache mirrors the
// table so LookupByOutput -- called once per output per scan -- never
// waits on SQLite; RecordCommand keeps both in sync.
type Log struct {
	db      *gorm.DB
	entries map[string]*Entry
}

// Open opens (creating if necessary) the sqlite-backed log at path.
// Passing ":memory:" is valid and is how tests exercise the real
// gorm/sqlite path without touching the filesystem.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	l := &Log{db: db, entries: map[string]*Entry{}}
	var rows []Entry
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		l.entries[rows[i].Output] = &rows[i]
	}
	return l, nil
}

func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LookupByOutput returns the recorded entry for path, or nil if the
// build log has never seen this output.
func (l *Log) LookupByOutput(path string) *Entry {
	return l.entries[path]
}

// RecordCommand upserts the (mtime, command hash, timing) tuple for
// every output of one successful edge.
func (l *Log) RecordCommand(outputs []string, commandHash uint64, startMillis, endMillis int64, mtime clock.TimeStamp) bool {
	for _, path := range outputs {
		e := &Entry{
			Output:      path,
			CommandHash: commandHash,
			Mtime:       int64(mtime),
			StartMillis: startMillis,
			EndMillis:   endMillis,
		}
		if err := l.db.Save(e).Error; err != nil {
			return false
		}
		l.entries[path] = e
	}
	return true
}

// Prune removes every recorded entry whose output is absent from
// keep, the cleanup a ninja "-t recompact" style maintenance pass would
// run; exposed mainly for tests that assert stale entries get dropped.
func (l *Log) Prune(keep map[string]bool) {
	for path := range l.entries {
		if !keep[path] {
			delete(l.entries, path)
			l.db.Delete(&Entry{}, "output = ?", path)
		}
	}
}
