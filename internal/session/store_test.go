package session

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ChamsBouzaiene/dyno/internal/database"
	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

func sampleHistory() []engine.Message {
	return []engine.Message{
		engine.UserMessage("add a login screen"),
		engine.ToolCallMessage(engine.ToolCall{ID: "call_1", Action: engine.WriteFile{FilePath: "app/login.tsx", Content: "export default 1"}}),
		engine.ToolResultMessage("call_1", "Wrote app/login.tsx (1 lines, 16 bytes)"),
		engine.AssistantText("Added a login screen."),
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "dyno.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(db.SQL()),
		"file":   NewFileStore(t.TempDir()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			got, err := store.Get(ctx, "proj-1")
			if err != nil {
				t.Fatalf("Get() on empty store error = %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("Get() on empty store = %v", got)
			}

			history := sampleHistory()
			if err := store.Set(ctx, "proj-1", history[:1]); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			// Last write wins.
			if err := store.Set(ctx, "proj-1", history); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			got, err = store.Get(ctx, "proj-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !reflect.DeepEqual(got, history) {
				t.Errorf("Get() = %#v\nwant %#v", got, history)
			}

			if other, _ := store.Get(ctx, "proj-2"); len(other) != 0 {
				t.Errorf("projects are not isolated: %v", other)
			}

			if err := store.Delete(ctx, "proj-1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if got, _ := store.Get(ctx, "proj-1"); len(got) != 0 {
				t.Errorf("Get() after Delete = %v", got)
			}
			if err := store.Delete(ctx, "proj-1"); err != nil {
				t.Errorf("second Delete() error = %v", err)
			}
		})
	}
}

func TestMemoryStore_CopiesHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	history := sampleHistory()
	if err := store.Set(ctx, "p", history); err != nil {
		t.Fatal(err)
	}
	history[0].Content = "mutated"

	got, _ := store.Get(ctx, "p")
	if got[0].Content != "add a login screen" {
		t.Error("Set() kept a reference to the caller's slice")
	}
	got[1].Content = "mutated"
	again, _ := store.Get(ctx, "p")
	if again[1].Content == "mutated" {
		t.Error("Get() returned the stored slice")
	}
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)
	if err := store.Set(ctx, "../../etc/passwd", sampleHistory()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	expected := filepath.Join(dir, "conversations", store.ProjectHash("../../etc/passwd")+".json")
	if _, err := os.Stat(expected); err != nil {
		t.Errorf("expected conversation file at %s: %v", expected, err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "conversations"))
	if len(entries) != 1 {
		t.Errorf("leftover files: %d entries", len(entries))
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		backend string
		dir     string
		wantErr bool
	}{
		{backend: "memory"},
		{backend: ""},
		{backend: "file", dir: t.TempDir()},
		{backend: "file", wantErr: true},
		{backend: "sqlite", wantErr: true},
		{backend: "redis", wantErr: true},
	}
	for _, tt := range tests {
		_, err := Open(tt.backend, nil, tt.dir)
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
		}
	}
}
