package db

import (
	"slices"
	"testing"
	"testing/fstest"
)

func TestDiscoverMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_returns.sql":     {Data: []byte("SELECT 1;")},
		"001_procurement.sql": {Data: []byte("SELECT 1;")},
		"README.md":           {Data: []byte("notes")},
	}
	names, err := discoverMigrations(fsys)
	if err != nil {
		t.Fatalf("discoverMigrations failed: %v", err)
	}
	if want := []string{"001_procurement.sql", "002_returns.sql"}; !slices.Equal(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestDiscoverMigrations_Rejects(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"duplicate version": {
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 1;")},
		},
		"missing description": {
			"001.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := discoverMigrations(fsys); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
