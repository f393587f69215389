package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNewCreatesPrivateDatabase(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mode bits are not stable on Windows")
	}
	dbPath := filepath.Join(t.TempDir(), "profile", "lantern.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = store.Close()

	info, err := os.Stat(dbPath)
	if err != nil {
		t.Fatalf("stat db: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("db perms = %o, want 600", got)
	}
	dirInfo, err := os.Stat(filepath.Dir(dbPath))
	if err != nil {
		t.Fatalf("stat db dir: %v", err)
	}
	if got := dirInfo.Mode().Perm() & 0o077; got != 0 {
		t.Errorf("profile dir is readable by others: %o", dirInfo.Mode().Perm())
	}
}

func TestSQLiteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"file::memory:?cache=shared", "", false},
		{"/tmp/lantern.db", "/tmp/lantern.db", true},
		{"file:/tmp/lantern.db?_pragma=busy_timeout(5000)", "/tmp/lantern.db", true},
		{"libsql://remote.test/db", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		if path != tt.path || onDisk != tt.onDisk {
			t.Errorf("sqliteFilePathFromDSN(%q) = (%q, %v), want (%q, %v)", tt.dsn, path, onDisk, tt.path, tt.onDisk)
		}
	}
}

func TestMigrationsRecordedInOrder(t *testing.T) {
	store := newTestStore(t)

	version, err := store.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion() error = %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}

	history, err := store.GetMigrationHistory()
	if err != nil {
		t.Fatalf("GetMigrationHistory() error = %v", err)
	}
	if len(history) != len(migrations) {
		t.Fatalf("recorded %d migrations, want %d", len(history), len(migrations))
	}
	for i, h := range history {
		if h.Version != migrations[i].Version || h.Name != migrations[i].Name {
			t.Errorf("migration %d = %d/%s, want %d/%s", i, h.Version, h.Name, migrations[i].Version, migrations[i].Name)
		}
		if h.AppliedAt == "" {
			t.Errorf("migration %d has no applied_at", i)
		}
	}
}

func TestReopenKeepsDataAndSkipsMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lantern.db")
	ctx := context.Background()

	first, err := New(dbPath)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := first.AddBookmark(ctx, "https://a.test/", "A", ""); err != nil {
		t.Fatalf("add bookmark: %v", err)
	}
	_ = first.Close()

	second, err := New(dbPath)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer second.Close()

	history, err := second.GetMigrationHistory()
	if err != nil {
		t.Fatalf("GetMigrationHistory() error = %v", err)
	}
	if len(history) != len(migrations) {
		t.Errorf("migrations re-recorded on reopen: got %d, want %d", len(history), len(migrations))
	}
	b, err := second.GetBookmark(ctx, "https://a.test/")
	if err != nil || b == nil {
		t.Fatalf("bookmark lost across reopen: %v, %v", b, err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping open store: %v", err)
	}

	var closed *Store
	if err := closed.Ping(context.Background()); err != ErrStoreClosed {
		t.Fatalf("ping nil store = %v, want ErrStoreClosed", err)
	}
}
