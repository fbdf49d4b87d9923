package adldap

import (
	"strings"
	"testing"
)

func validRaw() map[string]any {
	return map[string]any{
		"server":        "dc01.corp.example.com",
		"bind_dn":       "CN=svc_scan,DC=corp,DC=example,DC=com",
		"bind_password": "hunter2",
		"search_base":   "DC=corp,DC=example,DC=com",
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(validRaw())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 389 {
		t.Errorf("port = %d, want 389", cfg.Port)
	}
	if cfg.SearchFilter != DefaultSearchFilter {
		t.Errorf("filter = %q", cfg.SearchFilter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestParseConfigSSLDefaultPort(t *testing.T) {
	raw := validRaw()
	raw["use_ssl"] = true
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 636 {
		t.Errorf("port = %d, want 636", cfg.Port)
	}
	if got := cfg.Address(); got != "ldaps://dc01.corp.example.com:636" {
		t.Errorf("address = %q", got)
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	raw := validRaw()
	raw["serverr"] = "typo.example.com"
	if _, err := ParseConfig(raw); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateMissingFields(t *testing.T) {
	for _, key := range []string{"server", "bind_dn", "bind_password", "search_base"} {
		raw := validRaw()
		delete(raw, key)
		cfg, err := ParseConfig(raw)
		if err != nil {
			t.Fatalf("parse without %s: %v", key, err)
		}
		err = cfg.Validate()
		if err == nil {
			t.Errorf("validate without %s should fail", key)
			continue
		}
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestDefinitionValidateConfig(t *testing.T) {
	def := Definition{}
	if def.Code() != "ad_ldap" {
		t.Errorf("code = %q", def.Code())
	}
	if err := def.ValidateConfig(validRaw()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if err := def.ValidateConfig(map[string]any{"server": "x"}); err == nil {
		t.Error("incomplete config accepted")
	}
}
