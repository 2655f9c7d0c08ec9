package db

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestLoad_SortsAndParsesVersions(t *testing.T) {
	files := fstest.MapFS{
		"003_cashier.sql": {Data: []byte("CREATE TABLE cashier_session (id UUID);")},
		"001_sources.sql": {Data: []byte("CREATE TABLE patient (id UUID);")},
		"002_billing.sql": {Data: []byte("CREATE TABLE invoice (id UUID);")},
		"README.md":       {Data: []byte("not a migration")},
		"notes.sql":       {Data: []byte("no prefix")},
		"abc_bad.sql":     {Data: []byte("bad prefix")},
	}

	migrations, err := NewMigrator(nil, files).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 3} {
		if migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_sources.sql" {
		t.Errorf("expected 001_sources.sql, got %s", migrations[0].Name)
	}
	if migrations[1].SQL != "CREATE TABLE invoice (id UUID);" {
		t.Errorf("unexpected SQL content: %s", migrations[1].SQL)
	}
}

func TestLoad_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).Load(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoad_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_core.sql"), []byte("SELECT 1;"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "002_subdir.sql"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	migrations, err := NewDirMigrator(nil, dir).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoad_MissingDir(t *testing.T) {
	if _, err := NewDirMigrator(nil, "/nonexistent/path").Load(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
