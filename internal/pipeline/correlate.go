package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/store"
)

// Correlate links identities to the systems they serve and returns the
// number of identities whose linked_system changed. Certificates correlate
// through SAN entries, falling back to a host-shaped subject CN; service
// accounts through the host part of their first SPN.
func (p *Pipeline) Correlate(ctx context.Context, enclaveID uuid.UUID) (int, error) {
	identities, err := p.store.ListIdentities(ctx, enclaveID)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}

	correlated := 0
	for _, identity := range identities {
		if ctx.Err() != nil {
			return correlated, ctx.Err()
		}

		linked := linkedSystemFor(identity)
		if linked == "" || linked == identity.LinkedSystem {
			continue
		}
		if err := p.store.SetIdentityLinkedSystem(ctx, identity.ID, linked); err != nil {
			return correlated, fmt.Errorf("set linked system for %s: %w", identity.ID, err)
		}
		p.logger.Debug("correlated identity",
			"identity_id", identity.ID, "linked_system", linked)
		correlated++
	}
	return correlated, nil
}

func linkedSystemFor(identity store.Identity) string {
	switch identity.Type {
	case store.IdentityCertificate:
		return certLinkedSystem(identity.Attributes.Certificate)
	case store.IdentityServiceAccount:
		return serviceAccountLinkedSystem(identity.Attributes.ServiceAccount)
	default:
		return ""
	}
}

func certLinkedSystem(attrs *store.CertificateAttributes) string {
	if attrs == nil {
		return ""
	}
	if len(attrs.SANs) > 0 {
		return attrs.SANs[0]
	}
	// Fall back to the subject CN, accepted only when it looks like a
	// hostname rather than a person or template name.
	if attrs.SubjectDN == nil {
		return ""
	}
	for _, part := range strings.Split(*attrs.SubjectDN, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToUpper(part), "CN=") {
			continue
		}
		cn := strings.TrimSpace(part[3:])
		if strings.Contains(cn, ".") {
			return cn
		}
		return ""
	}
	return ""
}

// serviceAccountLinkedSystem extracts the host from the first SPN, which
// has the form service/host[:port].
func serviceAccountLinkedSystem(attrs *store.ServiceAccountAttributes) string {
	if attrs == nil || len(attrs.SPNs) == 0 {
		return ""
	}
	spn := attrs.SPNs[0]
	idx := strings.Index(spn, "/")
	if idx < 0 {
		return ""
	}
	host := spn[idx+1:]
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimSpace(host)
}
