package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/store"
)

// stubStore keeps findings and identities in memory, mirroring the
// identity_findings anti-join for unprocessed findings.
type stubStore struct {
	findings   []store.Finding
	identities map[uuid.UUID]store.Identity
	processed  map[uuid.UUID]uuid.UUID // finding -> identity
}

func newStubStore() *stubStore {
	return &stubStore{
		identities: make(map[uuid.UUID]store.Identity),
		processed:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *stubStore) addFinding(enclaveID uuid.UUID, sourceType store.SourceType, fp string, raw map[string]any) store.Finding {
	f := store.Finding{
		ID:          uuid.New(),
		EnclaveID:   enclaveID,
		SourceType:  sourceType,
		Fingerprint: fp,
		RawData:     raw,
	}
	s.findings = append(s.findings, f)
	return f
}

func (s *stubStore) ListUnprocessedFindings(_ context.Context, enclaveID uuid.UUID) ([]store.Finding, error) {
	var out []store.Finding
	for _, f := range s.findings {
		if f.EnclaveID != enclaveID {
			continue
		}
		if _, done := s.processed[f.ID]; !done {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubStore) GetIdentityByFingerprint(_ context.Context, enclaveID uuid.UUID, fp string) (store.Identity, error) {
	for _, ident := range s.identities {
		if ident.EnclaveID == enclaveID && ident.Fingerprint == fp {
			return ident, nil
		}
	}
	return store.Identity{}, store.ErrNotFound
}

func (s *stubStore) CreateIdentity(_ context.Context, p store.CreateIdentityParams) (store.Identity, error) {
	ident := store.Identity{
		ID:          uuid.New(),
		EnclaveID:   p.EnclaveID,
		Type:        p.Type,
		DisplayName: p.DisplayName,
		Fingerprint: p.Fingerprint,
		Attributes:  p.Attributes,
		FirstSeen:   p.FirstSeen,
		LastSeen:    p.LastSeen,
	}
	s.identities[ident.ID] = ident
	return ident, nil
}

func (s *stubStore) UpdateIdentityObserved(_ context.Context, id uuid.UUID, displayName string, attrs store.IdentityAttributes, lastSeen time.Time) error {
	ident := s.identities[id]
	ident.DisplayName = displayName
	ident.Attributes = attrs
	ident.LastSeen = lastSeen
	s.identities[id] = ident
	return nil
}

func (s *stubStore) LinkIdentityFinding(_ context.Context, identityID, findingID uuid.UUID) error {
	if _, done := s.processed[findingID]; !done {
		s.processed[findingID] = identityID
	}
	return nil
}

func (s *stubStore) ListIdentities(_ context.Context, enclaveID uuid.UUID) ([]store.Identity, error) {
	var out []store.Identity
	for _, ident := range s.identities {
		if ident.EnclaveID == enclaveID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (s *stubStore) SetIdentityLinkedSystem(_ context.Context, id uuid.UUID, linkedSystem string) error {
	ident := s.identities[id]
	ident.LinkedSystem = linkedSystem
	s.identities[id] = ident
	return nil
}

func (s *stubStore) SetIdentityRiskScore(_ context.Context, id uuid.UUID, score int) error {
	ident := s.identities[id]
	ident.RiskScore = score
	s.identities[id] = ident
	return nil
}

func (s *stubStore) single(t *testing.T) store.Identity {
	t.Helper()
	if len(s.identities) != 1 {
		t.Fatalf("got %d identities, want 1", len(s.identities))
	}
	for _, ident := range s.identities {
		return ident
	}
	panic("unreachable")
}

func strptr(s string) *string { return &s }

func TestNormalizeCreatesAndUpdates(t *testing.T) {
	st := newStubStore()
	p := New(st, nil)
	enclaveID := uuid.New()

	st.addFinding(enclaveID, store.SourceADServiceAccount, "S-1-5-21-1-2-3-1104", map[string]any{
		"objectSid":                  "S-1-5-21-1-2-3-1104",
		"sAMAccountName":             "svc_backup",
		"servicePrincipalName":       []any{"MSSQLSvc/db01.corp.example.com:1433"},
		"userAccountControl_enabled": true,
		"pwdLastSet":                 "2024-01-31T16:00:00Z",
	})

	n, err := p.Normalize(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n != 1 {
		t.Fatalf("normalized %d, want 1", n)
	}

	ident := st.single(t)
	if ident.Type != store.IdentityServiceAccount {
		t.Errorf("type = %q", ident.Type)
	}
	if ident.DisplayName != "svc_backup" {
		t.Errorf("display name = %q", ident.DisplayName)
	}
	sa := ident.Attributes.ServiceAccount
	if sa == nil || sa.PasswordLastSet == nil || len(sa.SPNs) != 1 {
		t.Fatalf("attributes not extracted: %+v", sa)
	}

	// Second run: nothing unprocessed, nothing changes.
	n, err = p.Normalize(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}
	if n != 0 {
		t.Errorf("second run normalized %d, want 0", n)
	}

	// A later observation of the same fingerprint merges field-level:
	// the new finding has no pwdLastSet, so the old one survives.
	st.addFinding(enclaveID, store.SourceADServiceAccount, "S-1-5-21-1-2-3-1104", map[string]any{
		"objectSid":                  "S-1-5-21-1-2-3-1104",
		"sAMAccountName":             "svc_backup_renamed",
		"userAccountControl_enabled": false,
	})
	n, err = p.Normalize(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("third normalize: %v", err)
	}
	if n != 1 {
		t.Fatalf("third run normalized %d, want 1", n)
	}

	ident = st.single(t)
	if ident.DisplayName != "svc_backup_renamed" {
		t.Errorf("display name = %q", ident.DisplayName)
	}
	sa = ident.Attributes.ServiceAccount
	if sa.PasswordLastSet == nil {
		t.Error("merge dropped pwdLastSet")
	}
	if sa.Enabled == nil || *sa.Enabled {
		t.Error("merge did not apply the new enabled flag")
	}
}

func TestNormalizeSkipsUnusableFindings(t *testing.T) {
	st := newStubStore()
	p := New(st, nil)
	enclaveID := uuid.New()

	st.addFinding(enclaveID, store.SourceADServiceAccount, "x", map[string]any{
		"sAMAccountName": "no_sid",
	})
	st.addFinding(enclaveID, "unknown_source", "y", map[string]any{"a": "b"})

	n, err := p.Normalize(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n != 0 {
		t.Errorf("normalized %d, want 0", n)
	}
	if len(st.identities) != 0 {
		t.Errorf("identities created for unusable findings")
	}
}

func TestCorrelate(t *testing.T) {
	cases := []struct {
		name  string
		ident store.Identity
		want  string
	}{
		{
			name: "cert san wins",
			ident: store.Identity{
				Type: store.IdentityCertificate,
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					SANs:      []string{"web01.corp.example.com", "web01"},
					SubjectDN: strptr("CN=ignored.example.com"),
				}},
			},
			want: "web01.corp.example.com",
		},
		{
			name: "cert cn fallback needs a dot",
			ident: store.Identity{
				Type: store.IdentityCertificate,
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					SubjectDN: strptr("CN=db01.corp.example.com,OU=Servers"),
				}},
			},
			want: "db01.corp.example.com",
		},
		{
			name: "cert bare cn rejected",
			ident: store.Identity{
				Type: store.IdentityCertificate,
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					SubjectDN: strptr("CN=Alice Admin,OU=People"),
				}},
			},
			want: "",
		},
		{
			name: "spn host with port",
			ident: store.Identity{
				Type: store.IdentityServiceAccount,
				Attributes: store.IdentityAttributes{ServiceAccount: &store.ServiceAccountAttributes{
					SPNs: []string{"MSSQLSvc/db01.corp.example.com:1433"},
				}},
			},
			want: "db01.corp.example.com",
		},
		{
			name:  "no attributes",
			ident: store.Identity{Type: store.IdentityServiceAccount},
			want:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := linkedSystemFor(tc.ident); got != tc.want {
				t.Errorf("linkedSystemFor = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCorrelateConverges(t *testing.T) {
	st := newStubStore()
	p := New(st, nil)
	enclaveID := uuid.New()

	id := uuid.New()
	st.identities[id] = store.Identity{
		ID:        id,
		EnclaveID: enclaveID,
		Type:      store.IdentityServiceAccount,
		Attributes: store.IdentityAttributes{ServiceAccount: &store.ServiceAccountAttributes{
			SPNs: []string{"HTTP/web01.corp.example.com"},
		}},
	}

	n, err := p.Correlate(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if n != 1 {
		t.Fatalf("correlated %d, want 1", n)
	}

	n, err = p.Correlate(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("second correlate: %v", err)
	}
	if n != 0 {
		t.Errorf("second run correlated %d, want 0", n)
	}
}

func TestRiskScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-24 * time.Hour)
	in20d := now.Add(20 * 24 * time.Hour)
	in60d := now.Add(60 * 24 * time.Hour)
	fresh := now.Add(-30 * 24 * time.Hour)
	stale := now.Add(-400 * 24 * time.Hour)
	enabled := true
	disabled := false

	cases := []struct {
		name  string
		ident store.Identity
		want  int
	}{
		{
			// No owner, no linked system, expired, no SAN.
			name: "orphaned expired cert",
			ident: store.Identity{
				Type: store.IdentityCertificate,
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					NotAfter: &expired,
				}},
			},
			want: 90,
		},
		{
			name: "owned cert expiring within 30 days",
			ident: store.Identity{
				Type:         store.IdentityCertificate,
				Owner:        "pki-team",
				LinkedSystem: "web01.corp.example.com",
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					NotAfter: &in20d,
					SANs:     []string{"web01.corp.example.com"},
				}},
			},
			want: 30,
		},
		{
			name: "owned cert expiring within 90 days",
			ident: store.Identity{
				Type:         store.IdentityCertificate,
				Owner:        "pki-team",
				LinkedSystem: "web01.corp.example.com",
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					NotAfter: &in60d,
					SANs:     []string{"web01.corp.example.com"},
				}},
			},
			want: 15,
		},
		{
			name: "cert with unknown expiry",
			ident: store.Identity{
				Type:         store.IdentityCertificate,
				Owner:        "pki-team",
				LinkedSystem: "web01.corp.example.com",
				Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
					SANs: []string{"web01.corp.example.com"},
				}},
			},
			want: 0,
		},
		{
			name: "healthy service account",
			ident: store.Identity{
				Type:         store.IdentityServiceAccount,
				Owner:        "dba-team",
				LinkedSystem: "db01.corp.example.com",
				Attributes: store.IdentityAttributes{ServiceAccount: &store.ServiceAccountAttributes{
					Enabled:         &enabled,
					PasswordLastSet: &fresh,
				}},
			},
			want: 0,
		},
		{
			name: "disabled account with stale password",
			ident: store.Identity{
				Type:         store.IdentityServiceAccount,
				Owner:        "dba-team",
				LinkedSystem: "db01.corp.example.com",
				Attributes: store.IdentityAttributes{ServiceAccount: &store.ServiceAccountAttributes{
					Enabled:         &disabled,
					PasswordLastSet: &stale,
				}},
			},
			want: 30,
		},
		{
			// Unknown password age scores like a stale one; missing
			// enabled flag counts as enabled.
			name: "service account with no attributes",
			ident: store.Identity{
				Type: store.IdentityServiceAccount,
			},
			want: 60,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := riskScore(tc.ident, now); got != tc.want {
				t.Errorf("riskScore = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestScoreCapsAtHundred(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-24 * time.Hour)
	ident := store.Identity{
		Type: store.IdentityCertificate,
		Attributes: store.IdentityAttributes{Certificate: &store.CertificateAttributes{
			NotAfter: &expired,
		}},
	}
	// 25+15+40+10 = 90; push over the cap with a second penalty source.
	got := riskScore(ident, now)
	if got != 90 {
		t.Fatalf("base score = %d, want 90", got)
	}
	if riskScoreCap != 100 {
		t.Fatalf("cap = %d", riskScoreCap)
	}
}

func TestScoreConverges(t *testing.T) {
	st := newStubStore()
	p := New(st, nil)
	p.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	enclaveID := uuid.New()

	id := uuid.New()
	st.identities[id] = store.Identity{
		ID:        id,
		EnclaveID: enclaveID,
		Type:      store.IdentityServiceAccount,
	}

	n, err := p.Score(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if n != 1 {
		t.Fatalf("scored %d, want 1", n)
	}
	if got := st.identities[id].RiskScore; got != 60 {
		t.Errorf("risk score = %d, want 60", got)
	}

	n, err = p.Score(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("second score: %v", err)
	}
	if n != 0 {
		t.Errorf("second run scored %d, want 0", n)
	}
}

func TestRunAllStages(t *testing.T) {
	st := newStubStore()
	p := New(st, nil)
	enclaveID := uuid.New()

	st.addFinding(enclaveID, store.SourceADCSCertificate, "CN=Corp CA|1A2B3C", map[string]any{
		"subject_dn":    "CN=web01.corp.example.com",
		"issuer_dn":     "CN=Corp CA",
		"serial_number": "1A2B3C",
		"san":           []any{"web01.corp.example.com"},
		"not_after":     "2030-01-01T00:00:00Z",
	})

	stats, err := p.Run(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Normalized != 1 || stats.Correlated != 1 || stats.Scored != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	ident := st.single(t)
	if ident.LinkedSystem != "web01.corp.example.com" {
		t.Errorf("linked system = %q", ident.LinkedSystem)
	}
	// Correlated but unowned: 25.
	if ident.RiskScore != 25 {
		t.Errorf("risk score = %d, want 25", ident.RiskScore)
	}

	stats, err = p.Run(context.Background(), enclaveID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("second run stats = %+v, want zeroes", stats)
	}
}
