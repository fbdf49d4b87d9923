package store

import "time"

// IdentityAttributes is the typed replacement for an open normalized-data
// map: exactly one of the per-type records is set, matching the identity
// type. Merge is field-level so repeated observations enrich a record
// without clobbering fields the newer observation did not carry.
type IdentityAttributes struct {
	ServiceAccount *ServiceAccountAttributes `json:"service_account,omitempty"`
	Certificate    *CertificateAttributes    `json:"certificate,omitempty"`
}

// ServiceAccountAttributes holds the normalized fields of a directory
// service account. Pointer fields distinguish "unknown" from a zero value;
// an unparsable timestamp in the source is stored as nil.
type ServiceAccountAttributes struct {
	SAMAccountName  *string    `json:"sam_account_name,omitempty"`
	DN              *string    `json:"dn,omitempty"`
	ObjectSID       *string    `json:"object_sid,omitempty"`
	SPNs            []string   `json:"spns,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	PasswordLastSet *time.Time `json:"password_last_set,omitempty"`
	LastLogon       *time.Time `json:"last_logon,omitempty"`
}

// CertificateAttributes holds the normalized fields of an issued
// certificate.
type CertificateAttributes struct {
	SubjectDN    *string    `json:"subject_dn,omitempty"`
	IssuerDN     *string    `json:"issuer_dn,omitempty"`
	SerialNumber *string    `json:"serial_number,omitempty"`
	TemplateName *string    `json:"template_name,omitempty"`
	Thumbprint   *string    `json:"thumbprint,omitempty"`
	KeyUsage     *string    `json:"key_usage,omitempty"`
	SANs         []string   `json:"sans,omitempty"`
	NotBefore    *time.Time `json:"not_before,omitempty"`
	NotAfter     *time.Time `json:"not_after,omitempty"`
}

// Merge combines an update into the receiver: non-nil update fields
// overwrite, nil fields preserve the existing value. The update's set
// record wins when the existing attributes carry none of that type.
func (a IdentityAttributes) Merge(update IdentityAttributes) IdentityAttributes {
	out := a
	if update.ServiceAccount != nil {
		out.ServiceAccount = mergeServiceAccount(a.ServiceAccount, update.ServiceAccount)
	}
	if update.Certificate != nil {
		out.Certificate = mergeCertificate(a.Certificate, update.Certificate)
	}
	return out
}

func mergeServiceAccount(old, update *ServiceAccountAttributes) *ServiceAccountAttributes {
	if old == nil {
		cp := *update
		return &cp
	}
	out := *old
	if update.SAMAccountName != nil {
		out.SAMAccountName = update.SAMAccountName
	}
	if update.DN != nil {
		out.DN = update.DN
	}
	if update.ObjectSID != nil {
		out.ObjectSID = update.ObjectSID
	}
	if update.SPNs != nil {
		out.SPNs = update.SPNs
	}
	if update.Enabled != nil {
		out.Enabled = update.Enabled
	}
	if update.PasswordLastSet != nil {
		out.PasswordLastSet = update.PasswordLastSet
	}
	if update.LastLogon != nil {
		out.LastLogon = update.LastLogon
	}
	return &out
}

func mergeCertificate(old, update *CertificateAttributes) *CertificateAttributes {
	if old == nil {
		cp := *update
		return &cp
	}
	out := *old
	if update.SubjectDN != nil {
		out.SubjectDN = update.SubjectDN
	}
	if update.IssuerDN != nil {
		out.IssuerDN = update.IssuerDN
	}
	if update.SerialNumber != nil {
		out.SerialNumber = update.SerialNumber
	}
	if update.TemplateName != nil {
		out.TemplateName = update.TemplateName
	}
	if update.Thumbprint != nil {
		out.Thumbprint = update.Thumbprint
	}
	if update.KeyUsage != nil {
		out.KeyUsage = update.KeyUsage
	}
	if update.SANs != nil {
		out.SANs = update.SANs
	}
	if update.NotBefore != nil {
		out.NotBefore = update.NotBefore
	}
	if update.NotAfter != nil {
		out.NotAfter = update.NotAfter
	}
	return &out
}
