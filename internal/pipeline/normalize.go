package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/store"
)

// extracted is the normalized form of one finding, ready to upsert.
type extracted struct {
	Fingerprint string
	Type        store.IdentityType
	DisplayName string
	Attributes  store.IdentityAttributes
}

// Normalize upserts an identity for every unprocessed finding in the
// enclave and returns the number of upserts. Findings with an unknown
// source type or no usable fingerprint are logged and left unprocessed.
func (p *Pipeline) Normalize(ctx context.Context, enclaveID uuid.UUID) (int, error) {
	findings, err := p.store.ListUnprocessedFindings(ctx, enclaveID)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed findings: %w", err)
	}

	upserted := 0
	for _, finding := range findings {
		if ctx.Err() != nil {
			return upserted, ctx.Err()
		}

		ext, err := extract(finding)
		if err != nil {
			p.logger.Warn("skipping finding",
				"finding_id", finding.ID,
				"source_type", finding.SourceType,
				"error", err)
			continue
		}

		identity, err := p.upsertIdentity(ctx, finding, ext)
		if err != nil {
			return upserted, err
		}
		if err := p.store.LinkIdentityFinding(ctx, identity.ID, finding.ID); err != nil {
			return upserted, fmt.Errorf("link finding %s: %w", finding.ID, err)
		}
		upserted++
	}
	return upserted, nil
}

func (p *Pipeline) upsertIdentity(ctx context.Context, finding store.Finding, ext extracted) (store.Identity, error) {
	now := p.now().UTC()

	existing, err := p.store.GetIdentityByFingerprint(ctx, finding.EnclaveID, ext.Fingerprint)
	switch {
	case err == nil:
		merged := existing.Attributes.Merge(ext.Attributes)
		if err := p.store.UpdateIdentityObserved(ctx, existing.ID, ext.DisplayName, merged, now); err != nil {
			return store.Identity{}, fmt.Errorf("update identity %s: %w", existing.ID, err)
		}
		existing.DisplayName = ext.DisplayName
		existing.Attributes = merged
		existing.LastSeen = now
		return existing, nil
	case errors.Is(err, store.ErrNotFound):
		created, err := p.store.CreateIdentity(ctx, store.CreateIdentityParams{
			EnclaveID:   finding.EnclaveID,
			Type:        ext.Type,
			DisplayName: ext.DisplayName,
			Fingerprint: ext.Fingerprint,
			Attributes:  ext.Attributes,
			FirstSeen:   now,
			LastSeen:    now,
		})
		if err != nil {
			return store.Identity{}, fmt.Errorf("create identity: %w", err)
		}
		return created, nil
	default:
		return store.Identity{}, fmt.Errorf("look up identity by fingerprint: %w", err)
	}
}

func extract(finding store.Finding) (extracted, error) {
	switch finding.SourceType {
	case store.SourceADServiceAccount:
		return extractServiceAccount(finding.RawData)
	case store.SourceADCSCertificate:
		return extractCertificate(finding.RawData)
	default:
		return extracted{}, fmt.Errorf("unknown source type %q", finding.SourceType)
	}
}

func extractServiceAccount(raw map[string]any) (extracted, error) {
	sid := stringField(raw, "objectSid")
	if sid == nil {
		return extracted{}, errors.New("no objectSid")
	}

	display := "Unknown"
	if sam := stringField(raw, "sAMAccountName"); sam != nil {
		display = *sam
	} else if cn := stringField(raw, "cn"); cn != nil {
		display = *cn
	}

	return extracted{
		Fingerprint: *sid,
		Type:        store.IdentityServiceAccount,
		DisplayName: display,
		Attributes: store.IdentityAttributes{
			ServiceAccount: &store.ServiceAccountAttributes{
				SAMAccountName:  stringField(raw, "sAMAccountName"),
				DN:              stringField(raw, "distinguishedName"),
				ObjectSID:       sid,
				SPNs:            stringSlice(raw, "servicePrincipalName"),
				Enabled:         boolField(raw, "userAccountControl_enabled"),
				PasswordLastSet: timeField(raw, "pwdLastSet"),
				LastLogon:       timeField(raw, "lastLogonTimestamp"),
			},
		},
	}, nil
}

func extractCertificate(raw map[string]any) (extracted, error) {
	issuer := stringField(raw, "issuer_dn")
	serial := stringField(raw, "serial_number")
	if issuer == nil && serial == nil {
		return extracted{}, errors.New("no issuer_dn or serial_number")
	}

	display := "Unknown Cert"
	if subject := stringField(raw, "subject_dn"); subject != nil {
		display = *subject
	} else if cn := stringField(raw, "common_name"); cn != nil {
		display = *cn
	}

	return extracted{
		Fingerprint: deref(issuer) + "|" + deref(serial),
		Type:        store.IdentityCertificate,
		DisplayName: display,
		Attributes: store.IdentityAttributes{
			Certificate: &store.CertificateAttributes{
				SubjectDN:    stringField(raw, "subject_dn"),
				IssuerDN:     issuer,
				SerialNumber: serial,
				TemplateName: stringField(raw, "template_name"),
				Thumbprint:   stringField(raw, "thumbprint"),
				KeyUsage:     stringField(raw, "key_usage"),
				SANs:         stringSlice(raw, "san"),
				NotBefore:    timeField(raw, "not_before"),
				NotAfter:     timeField(raw, "not_after"),
			},
		},
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringField(raw map[string]any, key string) *string {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func boolField(raw map[string]any, key string) *bool {
	b, ok := raw[key].(bool)
	if !ok {
		return nil
	}
	return &b
}

// stringSlice reads a list field. JSON round-trips through the store
// produce []any, in-process callers may hand over []string.
func stringSlice(raw map[string]any, key string) []string {
	switch v := raw[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// timeField parses an RFC3339 timestamp field. Missing or unparsable
// values come back nil, which downstream stages treat as unknown.
func timeField(raw map[string]any, key string) *time.Time {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
