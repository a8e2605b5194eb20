package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/procurement")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("log format = %q, want console default", cfg.Log.Format)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("shutdown timeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if got := cfg.Server.Origins(); len(got) != 2 || got[1] != "http://b.test" {
		t.Errorf("origins = %v", got)
	}
	loc, err := cfg.Business.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("timezone = %s, want Asia/Kolkata", loc)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL and JWT_SECRET")
	}
}

func TestValidate_BadTimezone(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{URL: "postgres://x"},
		JWT:      JWTConfig{Secret: "s"},
		Business: BusinessConfig{Timezone: "Mars/Olympus"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore Chdir: %v", err)
		}
	})
}
