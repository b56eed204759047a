package config

import "testing"

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.DBPath != DefaultServerDB {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, DefaultServerDB)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("RELAY_PORT", "9000")
	t.Setenv("RELAY_DB", "/tmp/custom.db")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoadServerConfigRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("RELAY_PORT", "80")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation error for privileged port")
	}
}

func TestLoadServerConfigRejectsGarbagePort(t *testing.T) {
	t.Setenv("RELAY_PORT", "not-a-number")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation error for non-numeric port")
	}
}

func TestLoadClientConfigDefaults(t *testing.T) {
	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ServerPort != DefaultPort {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, DefaultPort)
	}
}

func TestLoadClientConfigRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("RELAYC_SERVER_PORT", "70000")
	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "A", Message: "bad"},
		{Field: "B", Message: "also bad"},
	}
	msg := errs.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}
