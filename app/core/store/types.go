package store

import "time"

// User owns an ordered collection of tasks, keyed externally by chat id.
type User struct {
	ID        string
	ChatID    string
	FirstName string
	Username  string
	CreatedAt int64
}

// Task belongs to exactly one user. LocalID is the user-facing sequential
// number (dense 1..N after every mutation); ID is the permanent identity.
type Task struct {
	ID           string
	UserID       string
	LocalID      int
	Text         string
	CreatedAt    int64
	ReminderAt   int64 // unix seconds, 0 when no reminder was ever set
	ReminderSet  bool
	ReminderSent bool
}

// Reminder is a due-notification candidate joined with its owner's chat id.
type Reminder struct {
	TaskID string
	ChatID string
	Text   string
	DueAt  time.Time
}

// Stats is a point-in-time summary of the store contents.
type Stats struct {
	Users          int `json:"users"`
	Tasks          int `json:"tasks"`
	ArmedReminders int `json:"armed_reminders"`
	SentReminders  int `json:"sent_reminders"`
}
