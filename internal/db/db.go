package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "casedata.db"

type Config struct {
	Workspace string
	// Path overrides the workspace default location when set. Relative paths resolve against Workspace.
	Path string
}

func (c Config) path() string {
	workspace := c.Workspace
	if workspace == "" {
		workspace = "."
	}
	if c.Path == "" {
		return filepath.Join(workspace, ".casedata", defaultDBName)
	}
	if filepath.IsAbs(c.Path) {
		return c.Path
	}
	return filepath.Join(workspace, c.Path)
}

// Open opens the SQLite database with foreign keys on and a busy timeout, so writers queue on the
// database write lock instead of failing immediately.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the resolved database file path.
func Path(cfg Config) string {
	return cfg.path()
}
