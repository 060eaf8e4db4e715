package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"runs", "run_failures", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	database.Close()
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 3 {
		t.Errorf("migration count = %d, want 3", count)
	}
}

func TestReclaimOrphanedRuns(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO runs (id, kind, status, progress, owner_pid, created_at, updated_at)
		VALUES ('legacy-run', 'document', 'running', 50, 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('dead-run', 'table', 'pending', 0, ?, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('live-run', 'table', 'pending', 0, ?, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('done-run', 'table', 'completed', 100, 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`, 1<<30, os.Getpid())
	if err != nil {
		t.Fatalf("insert run error = %v", err)
	}

	// A second open while db1 is still in use, as a CLI command next to serve.
	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()
	defer db1.Close()

	tests := []struct {
		id         string
		wantStatus string
		wantError  string
	}{
		{"legacy-run", "failed", InterruptedError},
		{"dead-run", "failed", InterruptedError},
		{"live-run", "pending", ""},
		{"done-run", "completed", ""},
	}
	for _, tt := range tests {
		var status string
		var errMsg sql.NullString
		err := db2.Conn().QueryRow("SELECT status, error FROM runs WHERE id = ?", tt.id).Scan(&status, &errMsg)
		if err != nil {
			t.Fatalf("query %s error = %v", tt.id, err)
		}
		if status != tt.wantStatus {
			t.Errorf("%s status = %s, want %s", tt.id, status, tt.wantStatus)
		}
		if errMsg.String != tt.wantError {
			t.Errorf("%s error = %q, want %q", tt.id, errMsg.String, tt.wantError)
		}
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("processAlive(self) = false, want true")
	}
	if processAlive(0) {
		t.Error("processAlive(0) = true, want false")
	}
}
