package adldap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultSearchFilter selects enabled-or-disabled user objects that carry
// at least one servicePrincipalName, the usual marker for AD service
// accounts.
const DefaultSearchFilter = "(&(objectCategory=person)(objectClass=user)(servicePrincipalName=*))"

// Config holds the configuration for one ad_ldap connector instance.
type Config struct {
	Server       string `json:"server"`
	Port         int    `json:"port,omitempty"`
	UseSSL       bool   `json:"use_ssl,omitempty"`
	BindDN       string `json:"bind_dn"`
	BindPassword string `json:"bind_password"`
	SearchBase   string `json:"search_base"`
	SearchFilter string `json:"search_filter,omitempty"`
}

// ParseConfig decodes a stored instance config. Unknown keys are rejected
// so typos surface when the instance is created rather than silently doing
// nothing.
func ParseConfig(raw map[string]any) (Config, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg.Normalized(), nil
}

// Normalized returns a copy with trimmed whitespace and defaults applied.
func (c Config) Normalized() Config {
	out := c
	out.Server = strings.TrimSpace(out.Server)
	out.BindDN = strings.TrimSpace(out.BindDN)
	out.SearchBase = strings.TrimSpace(out.SearchBase)
	out.SearchFilter = strings.TrimSpace(out.SearchFilter)
	if out.Port == 0 {
		if out.UseSSL {
			out.Port = 636
		} else {
			out.Port = 389
		}
	}
	if out.SearchFilter == "" {
		out.SearchFilter = DefaultSearchFilter
	}
	return out
}

// Validate returns an error if the config is incomplete.
func (c Config) Validate() error {
	c = c.Normalized()
	if c.Server == "" {
		return errors.New("server is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BindDN == "" {
		return errors.New("bind_dn is required")
	}
	if c.BindPassword == "" {
		return errors.New("bind_password is required")
	}
	if c.SearchBase == "" {
		return errors.New("search_base is required")
	}
	return nil
}

// Address returns the LDAP URL for the configured server.
func (c Config) Address() string {
	c = c.Normalized()
	scheme := "ldap"
	if c.UseSSL {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Server, c.Port)
}
