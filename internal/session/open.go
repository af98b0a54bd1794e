package session

import (
	"database/sql"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Open selects a store by backend name. db is required for sqlite and dir for file.
func Open(backend string, db *sql.DB, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite session backend requires a database")
		}
		return NewSQLiteStore(db), nil
	case BackendFile:
		if dir == "" {
			return nil, fmt.Errorf("file session backend requires a directory")
		}
		return NewFileStore(dir), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
}
