package checksum

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite3" driver used by Persist/Restore below.
	_ "github.com/mattn/go-sqlite3"
)

// Persist writes the whole checksum table to a SQLite database at path,
// out of band from the memory region, so it can be recovered on a
// later attach independently of the region's own contents.
func (s *Store) Persist(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pmbd_checksums (
		pbn INTEGER PRIMARY KEY,
		crc32 INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("checksum: create table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("checksum: begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO pmbd_checksums (pbn, crc32) VALUES (?, ?)
		ON CONFLICT(pbn) DO UPDATE SET crc32 = excluded.crc32`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("checksum: prepare insert: %w", err)
	}
	defer stmt.Close()

	for pbn, sum := range s.table {
		if _, err := stmt.Exec(pbn, sum); err != nil {
			tx.Rollback()
			return fmt.Errorf("checksum: write pbn %d: %w", pbn, err)
		}
	}

	return tx.Commit()
}

// Restore loads a checksum table previously written by Persist into s.
// Entries not present in the database are left at their current value
// (zero, for a freshly created Store), matching a logical reset where
// the medium's contents are assumed to be retained but a subset of the
// checksum table may not have been flushed before a crash of the
// out-of-band store itself.
func (s *Store) Restore(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT pbn, crc32 FROM pmbd_checksums`)
	if err != nil {
		return fmt.Errorf("checksum: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pbn uint64
		var sum uint32
		if err := rows.Scan(&pbn, &sum); err != nil {
			return fmt.Errorf("checksum: scan: %w", err)
		}
		if pbn < uint64(len(s.table)) {
			s.table[pbn] = sum
		}
	}
	return rows.Err()
}
