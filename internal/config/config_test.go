package config

import (
	"path/filepath"
	"testing"
)

func TestReadConfig(t *testing.T) {
	var (
		err         error
		projectRoot string
	)

	// Get the project root by going up from internal/config
	projectRoot, err = filepath.Abs("../../")
	if err != nil {
		t.Fatalf("failed to get project root: %v", err)
	}

	configPath := filepath.Join(projectRoot, "etc") + string(filepath.Separator)

	var cfg Config

	cfg, err = ReadConfig(configPath)
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	if cfg.Title == "" {
		t.Error("Config.Title should not be empty")
	}

	if cfg.Webserver.Port == 0 {
		t.Error("Webserver.Port should not be 0")
	}

	if cfg.Webserver.URL == "" {
		t.Error("Webserver.URL should not be empty")
	}

	if cfg.DB.Host == "" {
		t.Error("DB.Host should not be empty")
	}

	if cfg.Confirm.URLPrefix == "" {
		t.Error("Confirm.URLPrefix should not be empty")
	}

	// TTL default applies when the file does not set one
	if cfg.Confirm.TokenTTLMinutes == 0 {
		t.Error("Confirm.TokenTTLMinutes should have a default")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Webserver: Webserver{Port: 8080, URL: "http://localhost:8080"},
		Confirm:   Confirm{URLPrefix: "http://localhost:8080/auth/confirm"},
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := base
		if err := validate(&cfg); err != nil {
			t.Fatalf("validate() error = %v", err)
		}

		if cfg.Webserver.ShutDownTime != 5 {
			t.Errorf("ShutDownTime default = %d, want 5", cfg.Webserver.ShutDownTime)
		}

		if cfg.Confirm.TokenTTLMinutes != 60 {
			t.Errorf("TokenTTLMinutes default = %d, want 60", cfg.Confirm.TokenTTLMinutes)
		}
	})

	t.Run("missing port", func(t *testing.T) {
		cfg := base
		cfg.Webserver.Port = 0

		if err := validate(&cfg); err == nil {
			t.Error("validate() should fail without a port")
		}
	})

	t.Run("missing confirm url prefix", func(t *testing.T) {
		cfg := base
		cfg.Confirm.URLPrefix = ""

		if err := validate(&cfg); err == nil {
			t.Error("validate() should fail without confirm.urlprefix")
		}
	})

	t.Run("bad dn pattern", func(t *testing.T) {
		cfg := base
		cfg.Confirm.DNPattern = "cn=(unclosed"

		if err := validate(&cfg); err == nil {
			t.Error("validate() should fail with an invalid dn pattern")
		}
	})
}
