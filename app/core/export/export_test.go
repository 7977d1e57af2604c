package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"taskbot/app/core/store"
)

func newFixture(t *testing.T) (*Exporter, *store.Store, store.User) {
	t.Helper()
	database, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	st := store.New(database)
	ctx := context.Background()
	user, err := st.EnsureUser(ctx, "chat-1", "Ada", "ada")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	for _, text := range []string{"buy milk", "call mom"} {
		if _, err := st.AddTask(ctx, user, text); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	if _, err := st.SetReminder(ctx, user, 2, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set reminder: %v", err)
	}
	return NewExporter(st), st, user
}

func TestExportJSON(t *testing.T) {
	exp, _, user := newFixture(t)
	data, ext, err := exp.Export(context.Background(), user, "json")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if ext != "json" {
		t.Fatalf("expected json extension, got %q", ext)
	}
	var tasks []store.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Text != "buy milk" || tasks[1].LocalID != 2 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestExportCSV(t *testing.T) {
	exp, _, user := newFixture(t)
	data, ext, err := exp.Export(context.Background(), user, "csv")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if ext != "csv" {
		t.Fatalf("expected csv extension, got %q", ext)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
	if rows[1][0] != "1" || rows[1][1] != "buy milk" {
		t.Fatalf("unexpected first row: %v", rows[1])
	}
	if rows[2][3] == "" {
		t.Fatal("expected reminder timestamp on second row")
	}
}

func TestExportPDF(t *testing.T) {
	exp, _, user := newFixture(t)
	data, ext, err := exp.Export(context.Background(), user, "pdf")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if ext != "pdf" {
		t.Fatalf("expected pdf extension, got %q", ext)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatal("output does not look like a PDF document")
	}
}

func TestExportUnknownFormat(t *testing.T) {
	exp, _, user := newFixture(t)
	if _, _, err := exp.Export(context.Background(), user, "xml"); err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}
