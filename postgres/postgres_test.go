// Copyright ©2021 Steve Merrony

package postgres

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postgres.toml")
	conf := []byte(`
PgHost = "db.local"
PgPort = "5432"
PgUser = "hub"
PgPassword = "secret"
PgDatabase = "homehub"
`)
	if err := os.WriteFile(path, conf, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	s, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if s.PgHost != "db.local" || s.PgPort != "5432" || s.PgDatabase != "homehub" {
		t.Fatalf("LoadConfig = %+v, want db.local:5432/homehub", s)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/postgres.toml"); err == nil {
		t.Fatal("LoadConfig should fail for a missing file")
	}
}

func TestNullableJSON(t *testing.T) {
	if nullableJSON(nil) != nil {
		t.Error("nullableJSON(nil) should be nil")
	}
	if nullableJSON([]byte{}) != nil {
		t.Error("nullableJSON(empty) should be nil")
	}
	if v := nullableJSON([]byte(`{}`)); v == nil {
		t.Error("nullableJSON(non-empty) should pass the bytes through")
	}
}
