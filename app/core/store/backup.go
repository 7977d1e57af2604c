package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Backup checkpoints the WAL and copies the database file into destDir.
// Returns the path of the backup file.
func (d *DB) Backup(destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := d.conn.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return "", fmt.Errorf("checkpoint wal: %w", err)
	}

	name := fmt.Sprintf("taskbot-%s.db.bak", time.Now().UTC().Format("20060102-150405"))
	backupPath := filepath.Join(destDir, name)
	if err := copyFile(d.path, backupPath); err != nil {
		return "", fmt.Errorf("copy database: %w", err)
	}
	return backupPath, nil
}

// PruneBackups removes backup files older than retainDays. Returns the
// number of files removed.
func PruneBackups(destDir string, retainDays int) int {
	if retainDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retainDays)

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db.bak") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(destDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}
