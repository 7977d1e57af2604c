package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "taskbot/app/configs"
	"taskbot/app/core/bot"
	"taskbot/app/core/export"
	"taskbot/app/core/interaction/cli"
	"taskbot/app/core/interaction/gateway"
	"taskbot/app/core/interaction/httpapi"
	"taskbot/app/core/interaction/telegram"
	"taskbot/app/core/reminder"
	"taskbot/app/core/scheduler"
	"taskbot/app/core/store"
	"taskbot/app/pkg/logger"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Taskbot starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := store.New(database)
	exporter := export.NewExporter(taskStore)
	handler := bot.New(taskStore, exporter, "output/exports")

	gw := gateway.NewGateway(handler)
	jobScheduler := scheduler.New()

	cliChannel := cli.NewCLIChannel(cfg.Bot.CLIChatID)
	gw.RegisterChannel(cliChannel)

	httpChannel := httpapi.NewChannel(cfg.HTTP.Addr)
	httpChannel.SetStatusProvider(func(ctx context.Context) map[string]interface{} {
		stats, err := taskStore.Stats(ctx)
		if err != nil {
			return map[string]interface{}{"error": err.Error()}
		}
		return map[string]interface{}{
			"gateway": gw.HealthStatus(),
			"jobs":    jobScheduler.Snapshot(),
			"store":   stats,
		}
	})
	gw.RegisterChannel(httpChannel)

	reminderChannel := cliChannel.ID()
	botToken := cfgManager.BotToken()
	if botToken != "" {
		tgChannel := telegram.NewChannel(telegram.Config{
			BotToken:       botToken,
			PollInterval:   time.Duration(cfg.Bot.PollIntervalSec) * time.Second,
			TimeoutSeconds: cfg.Bot.TimeoutSec,
		})
		gw.RegisterChannel(tgChannel)
		reminderChannel = tgChannel.ID()
	} else {
		logger.Info("No bot token configured, Telegram channel disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reminderService := reminder.NewService(taskStore, gw, reminderChannel, cfg.Reminder.GraceWindow())

	if err := jobScheduler.Register(scheduler.JobSpec{
		Name:     "reminder-dispatch",
		Interval: cfg.Reminder.PollInterval(),
		Timeout:  30 * time.Second,
		Run:      reminderService.Run,
	}); err != nil {
		logger.Error("Failed to register reminder job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Register(scheduler.JobSpec{
		Name:     "db-backup",
		Interval: 24 * time.Hour,
		Timeout:  time.Minute,
		Run: func(context.Context) error {
			path, err := database.Backup(cfg.Store.BackupDir)
			if err != nil {
				return err
			}
			pruned := store.PruneBackups(cfg.Store.BackupDir, cfg.Store.BackupRetainDays)
			logger.Info("Database backed up to %s (pruned %d old backups)", path, pruned)
			return nil
		},
	}); err != nil {
		logger.Error("Failed to register backup job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	go func() {
		if err := gw.Start(ctx); err != nil {
			logger.Error("Gateway crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Taskbot is ready to serve.")
	fmt.Println("- CLI Interface:  Interactive")
	fmt.Printf("- HTTP Interface: http://localhost%s/api/message (POST)\n", cfg.HTTP.Addr)
	if botToken != "" {
		fmt.Println("- Telegram:       long polling")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Taskbot shutting down...", sig)
	cancel()
}
