package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"PORT", "ARI_URL", "ARI_USERNAME", "ARI_PASSWORD", "TTS_URL",
		"DB_HOST", "DB_PORT", "DB_USERNAME", "DB_PASSWORD", "DB_DATABASE",
		"JWT_SECRET", "INTERNAL_API_SECRET",
		"VOXDIALER_LOG_LEVEL", "VOXDIALER_LOG_FORMAT", "VOXDIALER_BATCH_MAX", "VOXDIALER_TRUNKS",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func requiredArgs() []string {
	return []string{
		"voxdialer",
		"--ari-url", "https://ari.example.test",
		"--ari-username", "voxdialer",
		"--ari-password", "secret",
		"--tts-url", "https://tts.example.test",
		"--db-host", "localhost",
		"--db-username", "voxdialer",
		"--db-database", "voxdialer",
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = requiredArgs()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.DBPort != defaultDBPort {
		t.Errorf("DBPort = %d, want %d", cfg.DBPort, defaultDBPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.BatchMax != 20 {
		t.Errorf("BatchMax = %d, want 20", cfg.BatchMax)
	}
}

func TestDefaultTrunks(t *testing.T) {
	clearEnv(t)
	os.Args = requiredArgs()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Trunks) != 1 || cfg.Trunks[0] != "trunk0" {
		t.Errorf("Trunks = %v, want [trunk0]", cfg.Trunks)
	}
}

func TestTrunksCLIOverridesEnv(t *testing.T) {
	clearEnv(t)
	os.Args = append(requiredArgs(), "--trunks", "trunkA, trunkB ,trunkC")
	t.Setenv("VOXDIALER_TRUNKS", "trunkX")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"trunkA", "trunkB", "trunkC"}
	if len(cfg.Trunks) != len(want) {
		t.Fatalf("Trunks = %v, want %v", cfg.Trunks, want)
	}
	for i, v := range want {
		if cfg.Trunks[i] != v {
			t.Errorf("Trunks[%d] = %q, want %q", i, cfg.Trunks[i], v)
		}
	}
}

func TestTrunksEnvOverride(t *testing.T) {
	clearEnv(t)
	os.Args = requiredArgs()
	t.Setenv("VOXDIALER_TRUNKS", "trunkX,trunkY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"trunkX", "trunkY"}
	if len(cfg.Trunks) != len(want) {
		t.Fatalf("Trunks = %v, want %v", cfg.Trunks, want)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = requiredArgs()
	t.Setenv("PORT", "9090")
	t.Setenv("VOXDIALER_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	os.Args = append(requiredArgs(), "--port", "3000", "--log-level", "warn")
	t.Setenv("PORT", "9090")
	t.Setenv("VOXDIALER_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000 (CLI should override env)", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Args = append(requiredArgs(), "--port", "99999")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Args = append(requiredArgs(), "--log-level", "verbose")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateMissingARIURL(t *testing.T) {
	clearEnv(t)
	os.Args = []string{
		"voxdialer",
		"--ari-username", "voxdialer",
		"--ari-password", "secret",
		"--tts-url", "https://tts.example.test",
		"--db-host", "localhost",
		"--db-username", "voxdialer",
		"--db-database", "voxdialer",
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ari-url is missing")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
