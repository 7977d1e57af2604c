package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taskbot/app/core/export"
	"taskbot/app/core/store"
	"taskbot/app/pkg/types"
)

const timeLayout = "2006-01-02 15:04"

const helpText = `Available commands:
/start - register and show this message
/new <text> - add a new task
/list - show your tasks
/rm <number> - delete one task by its number
/clear - delete all your tasks
/remind <number> <YYYY-MM-DD HH:MM> - set a reminder for a task
/export [json|csv|pdf] - export your task list to a file
/help - show this message`

// Handler turns inbound chat messages into task store operations and
// builds the textual replies. It is the single Responder behind every
// registered channel.
type Handler struct {
	st        *store.Store
	exporter  *export.Exporter
	conv      *conversations
	exportDir string
}

func New(st *store.Store, exporter *export.Exporter, exportDir string) *Handler {
	return &Handler{
		st:        st,
		exporter:  exporter,
		conv:      newConversations(),
		exportDir: exportDir,
	}
}

func (h *Handler) Handle(ctx context.Context, msg types.Message) (types.Message, error) {
	text := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(text, "/") {
		// A command always cancels whatever input was being waited for.
		h.conv.set(msg.ChatID, pendingNone)
		return h.handleCommand(ctx, msg, text)
	}
	return h.handleFollowUp(ctx, msg, text)
}

func (h *Handler) handleCommand(ctx context.Context, msg types.Message, text string) (types.Message, error) {
	fields := strings.Fields(text)
	command := fields[0]
	// Telegram group chats append the bot name, e.g. "/list@taskbot".
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	if command == "/start" {
		return h.handleStart(ctx, msg)
	}

	user, err := h.st.GetUser(ctx, msg.ChatID)
	if store.IsNotFound(err) {
		return h.reply(msg, "You are not registered yet. Use /start to register."), nil
	}
	if err != nil {
		return types.Message{}, err
	}

	switch command {
	case "/help":
		return h.reply(msg, helpText), nil
	case "/new":
		if len(args) == 0 {
			h.conv.set(msg.ChatID, pendingTaskText)
			return h.reply(msg, "Send me the task text."), nil
		}
		return h.addTask(ctx, msg, user, strings.Join(args, " "))
	case "/list":
		return h.listTasks(ctx, msg, user)
	case "/rm":
		if len(args) == 0 {
			h.conv.set(msg.ChatID, pendingDeleteNumber)
			return h.reply(msg, "Send the number of the task to delete."), nil
		}
		return h.removeTask(ctx, msg, user, args[0])
	case "/clear":
		if err := h.st.RemoveAllTasks(ctx, user); err != nil {
			return types.Message{}, err
		}
		return h.reply(msg, "All tasks deleted."), nil
	case "/remind":
		if len(args) == 0 {
			h.conv.set(msg.ChatID, pendingReminder)
			return h.reply(msg, "Send the task number and time, e.g. 2 2026-09-01 09:00"), nil
		}
		return h.setReminder(ctx, msg, user, strings.Join(args, " "))
	case "/export":
		format := "json"
		if len(args) > 0 {
			format = strings.ToLower(args[0])
		}
		return h.exportTasks(ctx, msg, user, format)
	default:
		return h.reply(msg, "Unknown command. Use /help to see what I can do."), nil
	}
}

func (h *Handler) handleFollowUp(ctx context.Context, msg types.Message, text string) (types.Message, error) {
	action := h.conv.take(msg.ChatID)
	if action == pendingNone {
		return h.reply(msg, "I did not understand that. Use /help to see available commands."), nil
	}

	user, err := h.st.GetUser(ctx, msg.ChatID)
	if store.IsNotFound(err) {
		return h.reply(msg, "You are not registered yet. Use /start to register."), nil
	}
	if err != nil {
		return types.Message{}, err
	}

	switch action {
	case pendingTaskText:
		return h.addTask(ctx, msg, user, text)
	case pendingDeleteNumber:
		return h.removeTask(ctx, msg, user, text)
	case pendingReminder:
		return h.setReminder(ctx, msg, user, text)
	default:
		return h.reply(msg, "I did not understand that. Use /help to see available commands."), nil
	}
}

func (h *Handler) handleStart(ctx context.Context, msg types.Message) (types.Message, error) {
	_, err := h.st.GetUser(ctx, msg.ChatID)
	alreadyRegistered := err == nil
	if err != nil && !store.IsNotFound(err) {
		return types.Message{}, err
	}
	if _, err := h.st.EnsureUser(ctx, msg.ChatID, msg.FirstName, msg.Username); err != nil {
		return types.Message{}, err
	}
	if alreadyRegistered {
		return h.reply(msg, "You are already registered.\n\n"+helpText), nil
	}
	log.Printf("[Bot] registered chat_id=%s username=%s", msg.ChatID, msg.Username)
	return h.reply(msg, "You are registered now. Manage your tasks with the commands below.\n\n"+helpText), nil
}

func (h *Handler) addTask(ctx context.Context, msg types.Message, user store.User, text string) (types.Message, error) {
	task, err := h.st.AddTask(ctx, user, text)
	if store.IsValidation(err) {
		return h.reply(msg, "Task text cannot be empty."), nil
	}
	if err != nil {
		return types.Message{}, err
	}
	return h.reply(msg, fmt.Sprintf("Task %d added: %s", task.LocalID, task.Text)), nil
}

func (h *Handler) listTasks(ctx context.Context, msg types.Message, user store.User) (types.Message, error) {
	tasks, err := h.st.ListTasks(ctx, user)
	if err != nil {
		return types.Message{}, err
	}
	if len(tasks) == 0 {
		return h.reply(msg, "Your task list is empty."), nil
	}
	lines := make([]string, 0, len(tasks))
	for _, task := range tasks {
		line := fmt.Sprintf("%d. %s", task.LocalID, task.Text)
		if task.ReminderSet && !task.ReminderSent {
			line += fmt.Sprintf(" (reminder %s)", time.Unix(task.ReminderAt, 0).Format(timeLayout))
		}
		lines = append(lines, line)
	}
	return h.reply(msg, strings.Join(lines, "\n")), nil
}

func (h *Handler) removeTask(ctx context.Context, msg types.Message, user store.User, arg string) (types.Message, error) {
	localID, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return h.reply(msg, "Send a task number, e.g. /rm 2"), nil
	}
	task, err := h.st.RemoveTask(ctx, user, localID)
	if store.IsNotFound(err) {
		return h.reply(msg, fmt.Sprintf("Task %d not found.", localID)), nil
	}
	if err != nil {
		return types.Message{}, err
	}
	return h.reply(msg, fmt.Sprintf("Task %d deleted: %s", localID, task.Text)), nil
}

func (h *Handler) setReminder(ctx context.Context, msg types.Message, user store.User, arg string) (types.Message, error) {
	localID, at, err := parseReminderArgs(arg)
	if err != nil {
		return h.reply(msg, "Could not parse that. Use: <number> YYYY-MM-DD HH:MM"), nil
	}
	task, err := h.st.SetReminder(ctx, user, localID, at)
	if store.IsNotFound(err) {
		return h.reply(msg, fmt.Sprintf("Task %d not found.", localID)), nil
	}
	if store.IsValidation(err) {
		return h.reply(msg, "That time is in the past. Pick a future time."), nil
	}
	if err != nil {
		return types.Message{}, err
	}
	return h.reply(msg, fmt.Sprintf("Reminder for task %d set to %s.", task.LocalID, at.Format(timeLayout))), nil
}

func (h *Handler) exportTasks(ctx context.Context, msg types.Message, user store.User, format string) (types.Message, error) {
	data, ext, err := h.exporter.Export(ctx, user, format)
	if err != nil {
		return h.reply(msg, fmt.Sprintf("Unknown export format %q. Supported: %s.", format, strings.Join(export.Formats(), ", "))), nil
	}
	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		return types.Message{}, fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("tasks-%s-%s.%s", msg.ChatID, time.Now().Format("20060102-150405"), ext)
	path := filepath.Join(h.exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.Message{}, fmt.Errorf("write export file: %w", err)
	}
	log.Printf("[Bot] exported tasks chat_id=%s format=%s path=%s", msg.ChatID, format, path)
	return h.reply(msg, fmt.Sprintf("Exported your tasks to %s", path)), nil
}

// parseReminderArgs splits "<number> YYYY-MM-DD HH:MM" into its parts.
// The time string is naive local time with minute precision.
func parseReminderArgs(arg string) (int, time.Time, error) {
	fields := strings.Fields(arg)
	if len(fields) != 3 {
		return 0, time.Time{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	localID, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bad task number %q", fields[0])
	}
	at, err := time.ParseInLocation(timeLayout, fields[1]+" "+fields[2], time.Local)
	if err != nil {
		return 0, time.Time{}, err
	}
	return localID, at, nil
}

func (h *Handler) reply(msg types.Message, text string) types.Message {
	return types.Message{
		Content:   text,
		Role:      types.MessageRoleBot,
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
		ReplyToID: msg.ID,
	}
}
