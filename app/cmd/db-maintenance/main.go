package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	config "taskbot/app/configs"
	"taskbot/app/core/store"
)

type maintenanceReport struct {
	GeneratedAt   string      `json:"generated_at"`
	DataDir       string      `json:"data_dir"`
	BackupPath    string      `json:"backup_path,omitempty"`
	PrunedBackups int         `json:"pruned_backups"`
	Stats         store.Stats `json:"stats"`
}

// Offline backup and prune for the task database. The running bot does
// the same thing on a daily schedule; this tool exists for manual runs
// before risky operations and for cron-driven setups without the bot.
func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	skipBackup := flag.Bool("skip-backup", false, "only prune old backups and print stats")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	database, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	report := maintenanceReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		DataDir:     cfg.Store.DataDir,
	}

	if !*skipBackup {
		path, err := database.Backup(cfg.Store.BackupDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "backup: %v\n", err)
			os.Exit(1)
		}
		report.BackupPath = path
	}
	report.PrunedBackups = store.PruneBackups(cfg.Store.BackupDir, cfg.Store.BackupRetainDays)

	stats, err := store.New(database).Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stats: %v\n", err)
		os.Exit(1)
	}
	report.Stats = stats

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
}
