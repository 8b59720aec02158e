package postgres

import (
	"io/fs"
	"slices"
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn",
			cfg:  ClientConfig{DSN: " postgres://u@h/db ", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", User: "bridge", Password: "secret", Database: "ledger"},
			want: "postgres://bridge:secret@db:5432/ledger?sslmode=disable",
		},
		{
			name: "escaped password",
			cfg:  ClientConfig{Host: "db", Port: 6432, User: "bridge", Password: "p@ss", Database: "ledger", SSLMode: "require"},
			want: "postgres://bridge:p%40ss@db:6432/ledger?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"migrations/001_credits.sql",
		"migrations/002_mints.sql",
		"migrations/003_audit_log.sql",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("migrations = %v, want %v", names, want)
	}
	for _, n := range names {
		body, _ := migrationsFS.ReadFile(n)
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS") {
			t.Errorf("%s is not idempotent", n)
		}
	}
}
