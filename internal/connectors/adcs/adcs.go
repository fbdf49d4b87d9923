// Package adcs ingests AD Certificate Services inventory from exported CSV
// files. Certificates are fingerprinted as issuer_dn|serial_number, unique
// within a CA.
package adcs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// TypeCode is the connector_types code this package implements.
const TypeCode = "adcs_file"

// Config holds the configuration for one adcs_file connector instance. All
// fields are optional: the file to ingest is usually supplied per run.
type Config struct {
	FilePath string `json:"file_path,omitempty"`
}

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
	cfg.FilePath = strings.TrimSpace(cfg.FilePath)
	return cfg, nil
}

// Definition registers the adcs_file connector type.
type Definition struct{}

func (Definition) Code() string        { return TypeCode }
func (Definition) DisplayName() string { return "AD Certificate Services (File)" }

func (Definition) ValidateConfig(cfg map[string]any) error {
	_, err := ParseConfig(cfg)
	return err
}

// Fingerprint computes the dedup key for a raw certificate record. Records
// carrying neither issuer nor serial cannot be keyed and return "".
func Fingerprint(raw map[string]any) string {
	issuer, _ := raw["issuer_dn"].(string)
	serial, _ := raw["serial_number"].(string)
	if issuer == "" && serial == "" {
		return ""
	}
	return issuer + "|" + serial
}
