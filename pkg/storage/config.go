package storage

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite)")
	path := lflag.String("sqlite-path", "gridpilot.db", "Path to the SQLite database file")

	var p struct{ Database }

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			db, err := NewSQLite(*path)
			if err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = db
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
