package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"linkvault/svc/util"
)

const checkpointInterval = 5 * time.Minute

// StartWALMaintenance periodically checkpoints the WAL so it cannot grow
// unbounded under sustained write load, with a final checkpoint on shutdown.
func StartWALMaintenance(db *sql.DB, quit chan struct{}) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := performWALCheckpoint(db); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

func performWALCheckpoint(db *sql.DB) error {
	start := time.Now()
	var busyPages, logPages, checkpointed int
	err := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		if _, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			return fmt.Errorf("PASSIVE checkpoint failed: %w", err)
		}
	} else if logPages > 1000 || busyPages > 0 {
		if err := db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed); err != nil {
			if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				return fmt.Errorf("TRUNCATE checkpoint failed: %w", err)
			}
		}
	}
	util.Debug().
		Int("busy", busyPages).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Dur("duration", time.Since(start)).
		Msg("WAL checkpoint completed")
	return nil
}
