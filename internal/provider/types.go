// Package provider implements the composite provider record model: one
// logical provider reconstructed from summary, license, privilege, and
// update-history records sharing a partition key.
package provider

import (
	"fmt"
	"strings"
	"time"
)

// Status values computed from date comparisons at read time.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"

	EligibilityEligible   = "eligible"
	EligibilityIneligible = "ineligible"
)

// HistoryTier selects which update-history records GetProvider fetches.
type HistoryTier int

const (
	// HistoryNone fetches no update records.
	HistoryNone HistoryTier = iota
	// HistoryDiffs fetches the cheap diff-only tier.
	HistoryDiffs
	// HistoryFull fetches diffs plus full prior snapshots.
	HistoryFull
)

// UpdateType values for update-history records.
const (
	UpdateTypeIssuance    = "issuance"
	UpdateTypeRenewal     = "renewal"
	UpdateTypeUpdate      = "update"
	UpdateTypeDeactivate  = "deactivation"
	UpdateTypePurchase    = "privilegePurchase"
	UpdateTypeHomeChanged = "homeJurisdictionChange"
)

// Summary is the provider summary record: denormalized searchable fields
// owned exclusively by the ingest commit step.
type Summary struct {
	Compact                string
	ProviderID             string
	GivenName              string
	MiddleName             string
	FamilyName             string
	NPI                    string
	LicenseJurisdiction    string
	PrivilegeJurisdictions []string
	LicenseStatus          string // jurisdiction-reported, not computed
	DateOfExpiration       string // best expiration across licenses
	DateOfUpdate           time.Time
}

// PK returns the provider partition key.
func (s *Summary) PK() string { return providerPK(s.Compact, s.ProviderID) }

// SK returns the summary sort key.
func (s *Summary) SK() string { return summarySK(s.Compact) }

// NameSortKey is the GSI1 sort key: family/given ordered, case-folded,
// provider id as tiebreak.
func (s *Summary) NameSortKey() string {
	return fmt.Sprintf("%s#%s#%s",
		strings.ToLower(s.FamilyName), strings.ToLower(s.GivenName), s.ProviderID)
}

// UpdatedSortKey is the GSI2 sort key: recency ordered.
func (s *Summary) UpdatedSortKey() string {
	return fmt.Sprintf("%s#%s", s.DateOfUpdate.UTC().Format(time.RFC3339), s.ProviderID)
}

// License is one jurisdiction-reported license record, one per
// (jurisdiction, licenseType).
type License struct {
	Compact          string
	ProviderID       string
	Jurisdiction     string
	LicenseType      string
	LicenseNumber    string
	GivenName        string
	MiddleName       string
	FamilyName       string
	DateOfBirth      string
	DateOfIssuance   string
	DateOfRenewal    string
	DateOfExpiration string
	LicenseStatus    string // as uploaded by the jurisdiction
	DateOfUpdate     time.Time
}

// PK returns the provider partition key.
func (l *License) PK() string { return providerPK(l.Compact, l.ProviderID) }

// SK returns the license sort key.
func (l *License) SK() string { return licenseSK(l.Compact, l.Jurisdiction, l.LicenseType) }

// ComputedStatus derives the license's effective status at the evaluation
// instant. The jurisdiction-reported status gates it, expiration ends it.
func (l *License) ComputedStatus(at time.Time) string {
	if l.LicenseStatus != StatusActive {
		return StatusInactive
	}
	if expired(l.DateOfExpiration, at) {
		return StatusInactive
	}
	return StatusActive
}

// Privilege is one purchased compact privilege record, one per
// (jurisdiction, licenseType).
type Privilege struct {
	Compact             string
	ProviderID          string
	PrivilegeID         string
	Jurisdiction        string
	LicenseType         string
	LicenseJurisdiction string // home jurisdiction of the backing license
	DateOfIssuance      string
	DateOfExpiration    string
	AdministratorSetOut bool // operator deactivated this privilege
	DateOfUpdate        time.Time
}

// PK returns the provider partition key.
func (p *Privilege) PK() string { return providerPK(p.Compact, p.ProviderID) }

// SK returns the privilege sort key.
func (p *Privilege) SK() string { return privilegeSK(p.Compact, p.Jurisdiction, p.LicenseType) }

// ComputedStatus derives the privilege's effective status. A privilege is
// only as good as the license backing it: derived from the matching
// license's computed status and the privilege's own expiration, never
// stored.
func (p *Privilege) ComputedStatus(backing *License, at time.Time) string {
	if p.AdministratorSetOut {
		return StatusInactive
	}
	if backing == nil || backing.ComputedStatus(at) != StatusActive {
		return StatusInactive
	}
	if expired(p.DateOfExpiration, at) {
		return StatusInactive
	}
	return StatusActive
}

// Update is one append-only update-history record. Diff-tier records
// carry only changed values; the full tier additionally snapshots the
// prior record. Immutable after creation.
type Update struct {
	Compact       string
	ProviderID    string
	UpdateID      string
	UpdateType    string
	Jurisdiction  string
	LicenseType   string
	CreatedAt     time.Time
	UpdatedValues map[string]string
	Previous      map[string]string // full tier only
}

// PK returns the provider partition key.
func (u *Update) PK() string { return providerPK(u.Compact, u.ProviderID) }

// SK returns the diff-tier sort key.
func (u *Update) SK() string {
	return historySK(u.Compact, u.CreatedAt.UTC().Format(time.RFC3339), u.UpdateID)
}

// FullSK returns the full-snapshot-tier sort key.
func (u *Update) FullSK() string {
	return historyFullSK(u.Compact, u.CreatedAt.UTC().Format(time.RFC3339), u.UpdateID)
}

// Identity maps an external identifier to a providerId. Created exactly
// once per identity by a conditional put.
type Identity struct {
	Compact    string
	ExternalID string
	ProviderID string
	CreatedAt  time.Time
}

// PK returns the identity partition key.
func (i *Identity) PK() string { return identityPK(i.Compact, i.ExternalID) }

// SK mirrors PK; identity partitions hold a single record.
func (i *Identity) SK() string { return identityPK(i.Compact, i.ExternalID) }

// Provider is the assembled composite record. All computed fields are
// evaluated against the single instant passed to Assemble.
type Provider struct {
	Summary    *Summary
	Licenses   []*License
	Privileges []*Privilege
	History    []*Update

	// Computed against one evaluation instant.
	Status             string
	CompactEligibility string
	EvaluatedAt        time.Time
}

// Assemble builds the composite from constituent records, computing every
// status field against the one evaluation instant so records read at
// slightly different wall-clock times stay self-consistent.
func Assemble(summary *Summary, licenses []*License, privileges []*Privilege, history []*Update, at time.Time) *Provider {
	p := &Provider{
		Summary:            summary,
		Licenses:           licenses,
		Privileges:         privileges,
		History:            history,
		Status:             StatusInactive,
		CompactEligibility: EligibilityIneligible,
		EvaluatedAt:        at,
	}

	for _, lic := range licenses {
		if lic.ComputedStatus(at) == StatusActive {
			p.Status = StatusActive
			p.CompactEligibility = EligibilityEligible
			break
		}
	}
	return p
}

// MatchingLicense finds the license backing a privilege by
// (jurisdiction, licenseType) of the provider's home jurisdiction.
func (p *Provider) MatchingLicense(priv *Privilege) *License {
	for _, lic := range p.Licenses {
		if lic.Jurisdiction == priv.LicenseJurisdiction && lic.LicenseType == priv.LicenseType {
			return lic
		}
	}
	return nil
}

// expired reports whether an ISO date (YYYY-MM-DD) is strictly before the
// evaluation instant's date. An unparseable or empty date counts as
// expired; eligibility never defaults open.
func expired(isoDate string, at time.Time) bool {
	d, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return true
	}
	// Licenses remain valid through their expiration date.
	dayAfter := d.AddDate(0, 0, 1)
	return !at.Before(dayAfter)
}
