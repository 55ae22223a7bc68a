package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the
// transfer_history table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfer_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		transfer_id INTEGER NOT NULL,
		source_url TEXT,
		filename TEXT,
		destination TEXT,
		total_bytes INTEGER DEFAULT 0,
		received_bytes INTEGER DEFAULT 0,
		status TEXT,
		error TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		UNIQUE(session_id, transfer_id)
	)`)

	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
