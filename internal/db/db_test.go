package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"crd-explorer/internal/config"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  config.Config{SQLiteDSN: "file::memory:?cache=shared", SQLitePath: filepath.Join(dir, "ignored.db")},
			want: "file::memory:?cache=shared",
		},
		{
			name: "plain path",
			cfg:  config.Config{SQLitePath: filepath.Join(dir, "a", "crd.db")},
			want: "file:" + filepath.Join(dir, "a", "crd.db") + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name: "file uri with params",
			cfg:  config.Config{SQLitePath: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc"},
			want: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_FileBacked(t *testing.T) {
	for _, logSQL := range []bool{false, true} {
		name := "plain"
		if logSQL {
			name = "logging connector"
		}
		t.Run(name, func(t *testing.T) {
			cfg := config.Config{
				SQLiteDriver:        "sqlite3",
				SQLitePath:          filepath.Join(t.TempDir(), "nested", "crd.db"),
				SQLiteMaxOpenConns:  1,
				SQLiteMaxIdleConns:  1,
				SQLiteLogStatements: logSQL,
			}
			conn, err := Open(context.Background(), cfg, nil)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer func() {
				if err := Close(conn); err != nil {
					t.Errorf("Close() error = %v", err)
				}
			}()

			var fk int
			if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
				t.Fatalf("pragma foreign_keys: %v", err)
			}
			if fk != 1 {
				t.Errorf("foreign_keys = %d; want 1", fk)
			}
		})
	}
}

func TestOpen_BadDriver(t *testing.T) {
	cfg := config.Config{SQLiteDriver: "nope", SQLitePath: filepath.Join(t.TempDir(), "x.db")}
	_, err := Open(context.Background(), cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "db open") {
		t.Fatalf("Open() error = %v; want db open error", err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil) = %v; want nil", err)
	}
}
