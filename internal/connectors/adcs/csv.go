package adcs

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// utf8BOM as emitted by Windows tooling at the start of CSV exports.
const utf8BOM = "\ufeff"

// ParseCSV reads an ADCS CSV export into raw record maps. Header names are
// trimmed, lowercased, and space-to-underscore normalized; the san column
// is split on semicolons; fully blank rows are dropped. Expected columns
// include subject_dn, issuer_dn, serial_number, not_before, not_after,
// template_name, san, thumbprint.
func ParseCSV(r io.Reader, logger *slog.Logger) ([]map[string]any, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	keys := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		keys[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
	}

	var records []map[string]any
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("skipping malformed csv row", "line", line, "error", err)
			continue
		}

		rec := make(map[string]any, len(keys))
		blank := true
		for i, key := range keys {
			if key == "" || i >= len(row) {
				continue
			}
			val := strings.TrimSpace(row[i])
			if val != "" {
				blank = false
			}
			rec[key] = val
		}
		if blank {
			continue
		}

		sanRaw, _ := rec["san"].(string)
		sans := []string{}
		for _, s := range strings.Split(sanRaw, ";") {
			if s = strings.TrimSpace(s); s != "" {
				sans = append(sans, s)
			}
		}
		rec["san"] = sans

		records = append(records, rec)
	}
	return records, nil
}
