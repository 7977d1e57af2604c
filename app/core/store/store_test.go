package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return New(database)
}

func mustUser(t *testing.T, s *Store, chatID string) User {
	t.Helper()
	user, err := s.EnsureUser(context.Background(), chatID, "Test", "tester")
	if err != nil {
		t.Fatalf("ensure user failed: %v", err)
	}
	return user
}

func localIDs(t *testing.T, s *Store, user User) []int {
	t.Helper()
	tasks, err := s.ListTasks(context.Background(), user)
	if err != nil {
		t.Fatalf("list tasks failed: %v", err)
	}
	ids := make([]int, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.LocalID)
	}
	return ids
}

func assertDense(t *testing.T, ids []int, want int) {
	t.Helper()
	if len(ids) != want {
		t.Fatalf("expected %d tasks, got %d (%v)", want, len(ids), ids)
	}
	for i, id := range ids {
		if id != i+1 {
			t.Fatalf("expected dense numbering 1..%d, got %v", want, ids)
		}
	}
}

func TestEnsureUserIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, "chat-1", "Ada", "ada")
	if err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	second, err := s.EnsureUser(ctx, "chat-1", "Ada", "ada")
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same user row, got %s and %s", first.ID, second.ID)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Users != 1 {
		t.Fatalf("expected exactly one user, got %d", stats.Users)
	}
}

func TestGetUserNotRegistered(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUser(context.Background(), "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestAddTaskRejectsEmptyText(t *testing.T) {
	s := newTestStore(t)
	user := mustUser(t, s, "chat-1")

	for _, text := range []string{"", "   ", "\t\n"} {
		if _, err := s.AddTask(context.Background(), user, text); !IsValidation(err) {
			t.Fatalf("expected validation error for %q, got %v", text, err)
		}
	}
	assertDense(t, localIDs(t, s, user), 0)
}

func TestDeleteRenumbersScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")

	for i, text := range []string{"buy milk", "call mom", "pay rent"} {
		task, err := s.AddTask(ctx, user, text)
		if err != nil {
			t.Fatalf("add %q failed: %v", text, err)
		}
		if task.LocalID != i+1 {
			t.Fatalf("expected local id %d for %q, got %d", i+1, text, task.LocalID)
		}
	}

	removed, err := s.RemoveTask(ctx, user, 2)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed.Text != "call mom" {
		t.Fatalf("expected to remove 'call mom', got %q", removed.Text)
	}

	tasks, err := s.ListTasks(ctx, user)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Text != "buy milk" || tasks[1].Text != "pay rent" {
		t.Fatalf("unexpected tasks after remove: %+v", tasks)
	}
	assertDense(t, localIDs(t, s, user), 2)

	if err := s.RemoveAllTasks(ctx, user); err != nil {
		t.Fatalf("remove all failed: %v", err)
	}
	assertDense(t, localIDs(t, s, user), 0)

	task, err := s.AddTask(ctx, user, "fresh start")
	if err != nil {
		t.Fatalf("add after clear failed: %v", err)
	}
	if task.LocalID != 1 {
		t.Fatalf("expected numbering to restart at 1, got %d", task.LocalID)
	}
}

func TestRemoveTaskNotFoundLeavesNumbering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")

	for _, text := range []string{"one", "two"} {
		if _, err := s.AddTask(ctx, user, text); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	if _, err := s.RemoveTask(ctx, user, 5); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	assertDense(t, localIDs(t, s, user), 2)
}

func TestNumberingStaysDenseUnderMixedOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")

	ops := []struct {
		add    string
		remove int
	}{
		{add: "a"},
		{add: "b"},
		{add: "c"},
		{remove: 1},
		{add: "d"},
		{remove: 3},
		{remove: 1},
		{add: "e"},
		{add: "f"},
		{remove: 2},
	}

	count := 0
	for i, op := range ops {
		if op.add != "" {
			if _, err := s.AddTask(ctx, user, op.add); err != nil {
				t.Fatalf("op %d: add failed: %v", i, err)
			}
			count++
		} else {
			if _, err := s.RemoveTask(ctx, user, op.remove); err != nil {
				t.Fatalf("op %d: remove failed: %v", i, err)
			}
			count--
		}
		assertDense(t, localIDs(t, s, user), count)
	}
}

func TestTasksAreScopedPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "chat-alice")
	bob := mustUser(t, s, "chat-bob")

	if _, err := s.AddTask(ctx, alice, "alice 1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	task, err := s.AddTask(ctx, bob, "bob 1")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if task.LocalID != 1 {
		t.Fatalf("expected bob's numbering to start at 1, got %d", task.LocalID)
	}

	if _, err := s.RemoveTask(ctx, bob, 1); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	assertDense(t, localIDs(t, s, alice), 1)
}

func TestSetReminderRejectsPastAndKeepsOldValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")
	if _, err := s.AddTask(ctx, user, "water plants"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	future := time.Date(2099, 1, 1, 9, 0, 0, 0, time.Local)
	armed, err := s.SetReminder(ctx, user, 1, future)
	if err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}
	if !armed.ReminderSet || armed.ReminderSent {
		t.Fatalf("expected armed unsent reminder, got %+v", armed)
	}
	if armed.ReminderAt != future.Unix() {
		t.Fatalf("unexpected reminder time: %d", armed.ReminderAt)
	}

	past := time.Date(2000, 1, 1, 9, 0, 0, 0, time.Local)
	if _, err := s.SetReminder(ctx, user, 1, past); !IsValidation(err) {
		t.Fatalf("expected validation error for past reminder, got %v", err)
	}

	tasks, err := s.ListTasks(ctx, user)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if tasks[0].ReminderAt != future.Unix() {
		t.Fatalf("expected original reminder retained, got %d", tasks[0].ReminderAt)
	}
}

func TestSetReminderUnknownLocalID(t *testing.T) {
	s := newTestStore(t)
	user := mustUser(t, s, "chat-1")
	at := time.Now().Add(time.Hour)
	if _, err := s.SetReminder(context.Background(), user, 7, at); !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDueRemindersRespectsGraceWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")
	if _, err := s.AddTask(ctx, user, "stand up"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	due := time.Now().Add(time.Hour).Truncate(time.Second)
	if _, err := s.SetReminder(ctx, user, 1, due); err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}
	grace := 2 * time.Minute

	// Not yet due.
	items, err := s.DueReminders(ctx, due.Add(-time.Second), grace)
	if err != nil {
		t.Fatalf("due reminders failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected nothing due before the reminder time, got %d", len(items))
	}

	// Due and inside the grace window.
	items, err = s.DueReminders(ctx, due.Add(30*time.Second), grace)
	if err != nil {
		t.Fatalf("due reminders failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one due reminder, got %d", len(items))
	}
	if items[0].ChatID != user.ChatID || items[0].Text != "stand up" {
		t.Fatalf("unexpected reminder payload: %+v", items[0])
	}
	if !items[0].DueAt.Equal(due) {
		t.Fatalf("unexpected due time: %s", items[0].DueAt)
	}

	// Past the grace window: skipped forever.
	items, err = s.DueReminders(ctx, due.Add(grace+time.Second), grace)
	if err != nil {
		t.Fatalf("due reminders failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected overdue reminder to be skipped, got %d", len(items))
	}
}

func TestMarkReminderSentIsOneWay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")
	if _, err := s.AddTask(ctx, user, "submit report"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	due := time.Now().Add(time.Hour)
	armed, err := s.SetReminder(ctx, user, 1, due)
	if err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}

	if err := s.MarkReminderSent(ctx, armed.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	items, err := s.DueReminders(ctx, due.Add(time.Second), 2*time.Minute)
	if err != nil {
		t.Fatalf("due reminders failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no candidates after mark-sent, got %d", len(items))
	}

	// Marking a deleted or unknown task is a benign no-op.
	if err := s.MarkReminderSent(ctx, "task-gone"); err != nil {
		t.Fatalf("expected no-op for unknown task, got %v", err)
	}
}

func TestSetReminderReArmsFiredReminder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")
	if _, err := s.AddTask(ctx, user, "review"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	first := time.Now().Add(time.Hour)
	armed, err := s.SetReminder(ctx, user, 1, first)
	if err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}
	if err := s.MarkReminderSent(ctx, armed.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	second := time.Now().Add(2 * time.Hour)
	rearmed, err := s.SetReminder(ctx, user, 1, second)
	if err != nil {
		t.Fatalf("re-arm failed: %v", err)
	}
	if !rearmed.ReminderSet || rearmed.ReminderSent {
		t.Fatalf("expected re-armed reminder to be unsent, got %+v", rearmed)
	}
	if rearmed.ReminderAt != second.Unix() {
		t.Fatalf("unexpected re-armed time: %d", rearmed.ReminderAt)
	}
}

func TestStatsCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "chat-1")

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.AddTask(ctx, user, text); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	armed, err := s.SetReminder(ctx, user, 1, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}
	if _, err := s.SetReminder(ctx, user, 2, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}
	if err := s.MarkReminderSent(ctx, armed.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Users != 1 || stats.Tasks != 3 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.ArmedReminders != 1 || stats.SentReminders != 1 {
		t.Fatalf("unexpected reminder counts: %+v", stats)
	}
}
