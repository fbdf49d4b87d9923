package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/store"
)

const (
	riskNoOwner        = 25
	riskNoLinkedSystem = 15

	riskCertExpired     = 40
	riskCertExpiring30d = 30
	riskCertExpiring90d = 15
	riskCertNoSAN       = 10
	riskAccountDisabled = 10
	riskStalePassword   = 20
	maxPasswordAge      = 365 * 24 * time.Hour
	riskScoreCap        = 100
)

// Score recomputes the risk score of every identity in the enclave and
// returns the number of identities whose score changed.
func (p *Pipeline) Score(ctx context.Context, enclaveID uuid.UUID) (int, error) {
	identities, err := p.store.ListIdentities(ctx, enclaveID)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}

	now := p.now().UTC()
	scored := 0
	for _, identity := range identities {
		if ctx.Err() != nil {
			return scored, ctx.Err()
		}

		score := riskScore(identity, now)
		if score == identity.RiskScore {
			continue
		}
		if err := p.store.SetIdentityRiskScore(ctx, identity.ID, score); err != nil {
			return scored, fmt.Errorf("set risk score for %s: %w", identity.ID, err)
		}
		p.logger.Debug("scored identity",
			"identity_id", identity.ID, "risk_score", score)
		scored++
	}
	return scored, nil
}

func riskScore(identity store.Identity, now time.Time) int {
	score := 0
	if identity.Owner == "" {
		score += riskNoOwner
	}
	if identity.LinkedSystem == "" {
		score += riskNoLinkedSystem
	}

	switch identity.Type {
	case store.IdentityCertificate:
		score += certRisk(identity.Attributes.Certificate, now)
	case store.IdentityServiceAccount:
		score += serviceAccountRisk(identity.Attributes.ServiceAccount, now)
	}

	if score > riskScoreCap {
		score = riskScoreCap
	}
	return score
}

func certRisk(attrs *store.CertificateAttributes, now time.Time) int {
	score := 0
	var notAfter *time.Time
	var sans []string
	if attrs != nil {
		notAfter = attrs.NotAfter
		sans = attrs.SANs
	}

	// Unknown expiry adds nothing; flagging every certificate with an
	// unparsable date would drown the real expirations.
	if notAfter != nil {
		switch {
		case notAfter.Before(now):
			score += riskCertExpired
		case notAfter.Before(now.Add(30 * 24 * time.Hour)):
			score += riskCertExpiring30d
		case notAfter.Before(now.Add(90 * 24 * time.Hour)):
			score += riskCertExpiring90d
		}
	}
	if len(sans) == 0 {
		score += riskCertNoSAN
	}
	return score
}

func serviceAccountRisk(attrs *store.ServiceAccountAttributes, now time.Time) int {
	score := 0
	var enabled *bool
	var pwdLastSet *time.Time
	if attrs != nil {
		enabled = attrs.Enabled
		pwdLastSet = attrs.PasswordLastSet
	}

	// Missing enabled flag counts as enabled.
	if enabled != nil && !*enabled {
		score += riskAccountDisabled
	}
	// Unknown password age is as bad as a stale one.
	if pwdLastSet == nil || pwdLastSet.Before(now.Add(-maxPasswordAge)) {
		score += riskStalePassword
	}
	return score
}
