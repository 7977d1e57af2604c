package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const botTokenEnv = "TASKBOT_BOT_TOKEN"

type Config struct {
	Bot      BotConfig      `json:"bot"`
	Store    StoreConfig    `json:"store"`
	Reminder ReminderConfig `json:"reminder"`
	HTTP     HTTPConfig     `json:"http"`
}

type BotConfig struct {
	// Token is only read from the config file when the TASKBOT_BOT_TOKEN
	// environment variable is unset.
	Token           string `json:"token,omitempty"`
	PollIntervalSec int    `json:"poll_interval_sec"`
	TimeoutSec      int    `json:"timeout_sec"`
	CLIChatID       string `json:"cli_chat_id"`
}

type StoreConfig struct {
	DataDir          string `json:"data_dir"`
	BackupDir        string `json:"backup_dir"`
	BackupRetainDays int    `json:"backup_retain_days"`
}

type ReminderConfig struct {
	PollIntervalSec int `json:"poll_interval_sec"`
	GraceWindowSec  int `json:"grace_window_sec"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

// BotToken resolves the Telegram token, preferring the environment so the
// secret never has to live in the config file.
func (m *Manager) BotToken() string {
	if token := strings.TrimSpace(os.Getenv(botTokenEnv)); token != "" {
		return token
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return strings.TrimSpace(m.cfg.Bot.Token)
}

func (c ReminderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c ReminderConfig) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowSec) * time.Second
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Bot: BotConfig{
			PollIntervalSec: 2,
			TimeoutSec:      20,
			CLIChatID:       "local_chat",
		},
		Store: StoreConfig{
			DataDir:          filepath.Join("output", "db"),
			BackupDir:        filepath.Join("output", "backups"),
			BackupRetainDays: 14,
		},
		Reminder: ReminderConfig{
			PollIntervalSec: 60,
			GraceWindowSec:  120,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.PollIntervalSec <= 0 {
		cfg.Bot.PollIntervalSec = 2
	}
	if cfg.Bot.TimeoutSec <= 0 {
		cfg.Bot.TimeoutSec = 20
	}
	if strings.TrimSpace(cfg.Bot.CLIChatID) == "" {
		cfg.Bot.CLIChatID = "local_chat"
	}
	if strings.TrimSpace(cfg.Store.DataDir) == "" {
		cfg.Store.DataDir = filepath.Join("output", "db")
	}
	if strings.TrimSpace(cfg.Store.BackupDir) == "" {
		cfg.Store.BackupDir = filepath.Join("output", "backups")
	}
	if cfg.Store.BackupRetainDays <= 0 {
		cfg.Store.BackupRetainDays = 14
	}
	if cfg.Reminder.PollIntervalSec <= 0 {
		cfg.Reminder.PollIntervalSec = 60
	}
	if cfg.Reminder.GraceWindowSec <= 0 {
		cfg.Reminder.GraceWindowSec = 120
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
}
