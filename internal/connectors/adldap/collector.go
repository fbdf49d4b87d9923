// Package adldap discovers Active Directory service accounts over LDAP.
// Each directory entry becomes one raw record fingerprinted by its
// objectSid, the only attribute guaranteed stable across renames and moves.
package adldap

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const (
	pagingSize = 500

	// ACCOUNTDISABLE bit of userAccountControl.
	uacAccountDisable = 0x0002

	// Seconds between the Windows FILETIME epoch (1601-01-01) and the
	// Unix epoch.
	filetimeEpochOffset = 11644473600
)

var searchAttributes = []string{
	"sAMAccountName",
	"distinguishedName",
	"objectSid",
	"servicePrincipalName",
	"userAccountControl",
	"pwdLastSet",
	"lastLogonTimestamp",
	"description",
}

// Record is one raw directory observation, already fingerprinted.
type Record struct {
	Fingerprint string
	Raw         map[string]any
}

// conn is the slice of *ldap.Conn the collector uses, split out so tests
// can run against a stub directory.
type conn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg Config, timeout time.Duration) (conn, error)

func dialLDAP(ctx context.Context, cfg Config, timeout time.Duration) (conn, error) {
	c, err := ldap.DialURL(cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address(), err)
	}
	c.SetTimeout(timeout)
	return c, nil
}

type Collector struct {
	cfg     Config
	timeout time.Duration
	dial    dialFunc
	logger  *slog.Logger
}

func NewCollector(cfg Config, timeout time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{cfg: cfg.Normalized(), timeout: timeout, dial: dialLDAP, logger: logger}
}

// Collect binds to the directory and returns one record per service
// account matching the configured filter. Entries with no readable
// objectSid are skipped.
func (c *Collector) Collect(ctx context.Context) ([]Record, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	cn, err := c.dial(ctx, c.cfg, c.timeout)
	if err != nil {
		return nil, err
	}
	defer cn.Close()

	if err := cn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("bind as %s: %w", c.cfg.BindDN, err)
	}

	req := ldap.NewSearchRequest(
		c.cfg.SearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		c.cfg.SearchFilter,
		searchAttributes,
		nil,
	)

	res, err := cn.SearchWithPaging(req, pagingSize)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.cfg.SearchBase, err)
	}

	records := make([]Record, 0, len(res.Entries))
	for _, entry := range res.Entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sid := sidString(entry.GetRawAttributeValue("objectSid"))
		if sid == "" {
			c.logger.Warn("skipping entry without objectSid", "dn", entry.DN)
			continue
		}
		records = append(records, Record{
			Fingerprint: sid,
			Raw:         entryToRaw(entry, sid),
		})
	}
	return records, nil
}

func entryToRaw(entry *ldap.Entry, sid string) map[string]any {
	raw := map[string]any{
		"distinguishedName": entry.DN,
		"objectSid":         sid,
	}
	if v := entry.GetAttributeValue("sAMAccountName"); v != "" {
		raw["sAMAccountName"] = v
	}
	if v := entry.GetAttributeValue("description"); v != "" {
		raw["description"] = v
	}
	if spns := entry.GetAttributeValues("servicePrincipalName"); len(spns) > 0 {
		raw["servicePrincipalName"] = spns
	}
	if v := entry.GetAttributeValue("userAccountControl"); v != "" {
		raw["userAccountControl"] = v
		if uac, err := strconv.ParseInt(v, 10, 64); err == nil {
			raw["userAccountControl_enabled"] = uac&uacAccountDisable == 0
		}
	}
	if t, ok := filetimeToTime(entry.GetAttributeValue("pwdLastSet")); ok {
		raw["pwdLastSet"] = t.Format(time.RFC3339)
	}
	if t, ok := filetimeToTime(entry.GetAttributeValue("lastLogonTimestamp")); ok {
		raw["lastLogonTimestamp"] = t.Format(time.RFC3339)
	}
	return raw
}

// filetimeToTime converts a Windows FILETIME attribute (100ns intervals
// since 1601) to UTC. Zero and unset values report no timestamp.
func filetimeToTime(v string) (time.Time, bool) {
	if v == "" || v == "0" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	secs := n/10_000_000 - filetimeEpochOffset
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// sidString renders a binary SID in its S-1-... form.
func sidString(b []byte) string {
	if len(b) < 8 {
		return ""
	}
	revision := b[0]
	subCount := int(b[1])
	if len(b) < 8+subCount*4 {
		return ""
	}
	var authority uint64
	for _, v := range b[2:8] {
		authority = authority<<8 | uint64(v)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "S-%d-%d", revision, authority)
	for i := 0; i < subCount; i++ {
		sub := binary.LittleEndian.Uint32(b[8+i*4:])
		fmt.Fprintf(&sb, "-%d", sub)
	}
	return sb.String()
}
