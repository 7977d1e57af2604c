package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/app/core/store"

	"github.com/jung-kurt/gofpdf"
)

// Exporter renders a user's task list into a downloadable document.
type Exporter struct{ st *store.Store }

func NewExporter(st *store.Store) *Exporter { return &Exporter{st: st} }

// Formats lists the supported export formats.
func Formats() []string { return []string{"json", "csv", "pdf"} }

// Export returns the rendered document and a suggested file extension.
func (e *Exporter) Export(ctx context.Context, user store.User, format string) ([]byte, string, error) {
	tasks, err := e.st.ListTasks(ctx, user)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "json", nil
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"number", "text", "created_at", "reminder_at", "reminder_sent"})
		for _, task := range tasks {
			reminderAt := ""
			if task.ReminderSet {
				reminderAt = time.Unix(task.ReminderAt, 0).Format("2006-01-02 15:04")
			}
			_ = w.Write([]string{
				strconv.Itoa(task.LocalID),
				task.Text,
				time.Unix(task.CreatedAt, 0).Format("2006-01-02 15:04"),
				reminderAt,
				strconv.FormatBool(task.ReminderSent),
			})
		}
		w.Flush()
		return []byte(b.String()), "csv", nil
	case "pdf":
		pdf := gofpdf.New("P", "mm", "A4", "")
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 14)
		pdf.Cell(40, 10, "Task List")
		pdf.Ln(12)
		pdf.SetFont("Arial", "", 10)
		if len(tasks) == 0 {
			pdf.MultiCell(0, 6, "No tasks.", "0", "L", false)
		}
		for _, task := range tasks {
			line := fmt.Sprintf("%d. %s", task.LocalID, task.Text)
			if task.ReminderSet {
				line += fmt.Sprintf(" (reminder %s)", time.Unix(task.ReminderAt, 0).Format("2006-01-02 15:04"))
			}
			pdf.MultiCell(0, 6, line, "0", "L", false)
		}
		var buf bytes.Buffer
		if err := pdf.Output(&buf); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "pdf", nil
	default:
		return nil, "", fmt.Errorf("unknown format %s", format)
	}
}
