package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns all user and task state. Every call holds the store mutex:
// the request handler and the reminder loop share one connection, and the
// numbering invariant depends on mutations never interleaving.
type Store struct {
	db *DB
	mu sync.Mutex
}

func New(db *DB) *Store {
	return &Store{db: db}
}

// EnsureUser looks up the user by chat id, creating the row on first
// contact. Repeated calls for the same chat id return the same user.
func (s *Store) EnsureUser(ctx context.Context, chatID string, firstName string, username string) (User, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return User{}, fmt.Errorf("store: chat_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userByChatID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if err != sql.ErrNoRows {
		return User{}, err
	}

	user = User{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		FirstName: strings.TrimSpace(firstName),
		Username:  strings.TrimSpace(username),
		CreatedAt: time.Now().Unix(),
	}
	query := `INSERT INTO users (id, chat_id, first_name, username, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, user.ID, user.ChatID, user.FirstName, user.Username, user.CreatedAt); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser returns the user registered for chatID, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, chatID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userByChatID(ctx, strings.TrimSpace(chatID))
	if err == sql.ErrNoRows {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) userByChatID(ctx context.Context, chatID string) (User, error) {
	query := `SELECT id, chat_id, first_name, username, created_at FROM users WHERE chat_id = ?`
	var u User
	err := s.db.Conn().QueryRowContext(ctx, query, chatID).Scan(&u.ID, &u.ChatID, &u.FirstName, &u.Username, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// AddTask appends a task at the end of the user's list and normalizes the
// numbering to a dense 1..N in the same transaction.
func (s *Store) AddTask(ctx context.Context, user User, text string) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE user_id = ?`, user.ID).Scan(&count); err != nil {
		return Task{}, err
	}

	task := Task{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		LocalID:   count + 1,
		Text:      text,
		CreatedAt: time.Now().Unix(),
	}
	insert := `INSERT INTO tasks (id, user_id, local_id, text, created_at, reminder_at, reminder_set, reminder_sent) VALUES (?, ?, ?, ?, ?, NULL, 0, 0)`
	if _, err := tx.ExecContext(ctx, insert, task.ID, task.UserID, task.LocalID, task.Text, task.CreatedAt); err != nil {
		return Task{}, err
	}

	if err := renumberTx(ctx, tx, user.ID); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks returns the user's tasks ordered by local id. An empty list is
// a valid result, not an error.
func (s *Store) ListTasks(ctx context.Context, user User) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, user_id, local_id, text, created_at, COALESCE(reminder_at, 0), reminder_set, reminder_sent FROM tasks WHERE user_id = ? ORDER BY local_id ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, user.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.LocalID, &t.Text, &t.CreatedAt, &t.ReminderAt, &t.ReminderSet, &t.ReminderSent); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// RemoveTask deletes the task the user sees as localID and renumbers the
// remainder to a dense 1..N-1, preserving relative order.
func (s *Store) RemoveTask(ctx context.Context, user User, localID int) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback()

	query := `SELECT id, user_id, local_id, text, created_at, COALESCE(reminder_at, 0), reminder_set, reminder_sent FROM tasks WHERE user_id = ? AND local_id = ?`
	var t Task
	err = tx.QueryRowContext(ctx, query, user.ID, localID).Scan(&t.ID, &t.UserID, &t.LocalID, &t.Text, &t.CreatedAt, &t.ReminderAt, &t.ReminderSet, &t.ReminderSent)
	if err == sql.ErrNoRows {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, t.ID); err != nil {
		return Task{}, err
	}
	if err := renumberTx(ctx, tx, user.ID); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// RemoveAllTasks deletes every task the user owns; the next add starts
// numbering at 1 again.
func (s *Store) RemoveAllTasks(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ?`, user.ID)
	return err
}

// SetReminder arms (or re-arms) a reminder on the task the user sees as
// localID. A timestamp strictly before the call time is rejected and the
// task is left untouched.
func (s *Store) SetReminder(ctx context.Context, user User, localID int, at time.Time) (Task, error) {
	if at.Before(time.Now()) {
		return Task{}, ErrPastReminder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	update := `UPDATE tasks SET reminder_at = ?, reminder_set = 1, reminder_sent = 0 WHERE user_id = ? AND local_id = ?`
	res, err := s.db.Conn().ExecContext(ctx, update, at.Unix(), user.ID, localID)
	if err != nil {
		return Task{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Task{}, err
	}
	if affected == 0 {
		return Task{}, ErrTaskNotFound
	}

	query := `SELECT id, user_id, local_id, text, created_at, COALESCE(reminder_at, 0), reminder_set, reminder_sent FROM tasks WHERE user_id = ? AND local_id = ?`
	var t Task
	if err := s.db.Conn().QueryRowContext(ctx, query, user.ID, localID).Scan(&t.ID, &t.UserID, &t.LocalID, &t.Text, &t.CreatedAt, &t.ReminderAt, &t.ReminderSet, &t.ReminderSent); err != nil {
		return Task{}, err
	}
	return t, nil
}

// DueReminders returns armed, unsent reminders whose due time has passed
// but is still within the grace window. Anything older than the window is
// never returned and therefore never delivered.
func (s *Store) DueReminders(ctx context.Context, now time.Time, grace time.Duration) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT t.id, u.chat_id, t.text, t.reminder_at
FROM tasks t
JOIN users u ON u.id = t.user_id
WHERE t.reminder_set = 1 AND t.reminder_sent = 0 AND t.reminder_at <= ? AND t.reminder_at > ?
ORDER BY t.reminder_at ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, now.Unix(), now.Add(-grace).Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Reminder, 0)
	for rows.Next() {
		var (
			r     Reminder
			dueAt int64
		)
		if err := rows.Scan(&r.TaskID, &r.ChatID, &r.Text, &dueAt); err != nil {
			return nil, err
		}
		r.DueAt = time.Unix(dueAt, 0)
		items = append(items, r)
	}
	return items, rows.Err()
}

// MarkReminderSent records that the task's reminder was delivered. The
// transition is one-way; a row deleted between dispatch and mark is a
// benign no-op.
func (s *Store) MarkReminderSent(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Conn().ExecContext(ctx, `UPDATE tasks SET reminder_sent = 1 WHERE id = ? AND reminder_set = 1`, taskID)
	return err
}

// Stats summarizes the store for health reporting.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&st.Users); err != nil {
		return Stats{}, err
	}
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`).Scan(&st.Tasks); err != nil {
		return Stats{}, err
	}
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE reminder_set = 1 AND reminder_sent = 0`).Scan(&st.ArmedReminders); err != nil {
		return Stats{}, err
	}
	if err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE reminder_sent = 1`).Scan(&st.SentReminders); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// renumberTx reassigns local ids to the dense range 1..N ordered by the
// current local id. Idempotent when the numbering is already dense.
func renumberTx(ctx context.Context, tx *sql.Tx, userID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, local_id FROM tasks WHERE user_id = ? ORDER BY local_id ASC, created_at ASC`, userID)
	if err != nil {
		return err
	}

	type numbered struct {
		id      string
		localID int
	}
	items := make([]numbered, 0)
	for rows.Next() {
		var n numbered
		if err := rows.Scan(&n.id, &n.localID); err != nil {
			rows.Close()
			return err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for i, n := range items {
		want := i + 1
		if n.localID == want {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET local_id = ? WHERE id = ?`, want, n.id); err != nil {
			return err
		}
	}
	return nil
}
