package provider

import (
	"fmt"
	"time"

	"github.com/licensecompact/provider-data/internal/schema"
)

// Document converts the composite record into the external representation
// and validates it against the output schema. Every read path — API
// responses and the search index alike — goes through this, so a sensitive
// field leaking into the wrong record is caught here instead of released.
func (p *Provider) Document() (map[string]any, error) {
	doc := map[string]any{
		"type":                TypeProviderSummary,
		"providerId":          p.Summary.ProviderID,
		"compact":             p.Summary.Compact,
		"givenName":           p.Summary.GivenName,
		"familyName":          p.Summary.FamilyName,
		"licenseJurisdiction": p.Summary.LicenseJurisdiction,
		"status":              p.Status,
		"compactEligibility":  p.CompactEligibility,
		"dateOfUpdate":        p.Summary.DateOfUpdate.UTC().Format(time.RFC3339),
	}
	if p.Summary.MiddleName != "" {
		doc["middleName"] = p.Summary.MiddleName
	}
	if p.Summary.NPI != "" {
		doc["npi"] = p.Summary.NPI
	}
	if p.Summary.DateOfExpiration != "" {
		doc["dateOfExpiration"] = p.Summary.DateOfExpiration
	}
	if len(p.Summary.PrivilegeJurisdictions) > 0 {
		jurs := make([]any, len(p.Summary.PrivilegeJurisdictions))
		for i, j := range p.Summary.PrivilegeJurisdictions {
			jurs[i] = j
		}
		doc["privilegeJurisdictions"] = jurs
	}

	if len(p.Licenses) > 0 {
		licenses := make([]any, len(p.Licenses))
		for i, lic := range p.Licenses {
			licenses[i] = p.licenseDocument(lic)
		}
		doc["licenses"] = licenses
	}

	if len(p.Privileges) > 0 {
		privileges := make([]any, len(p.Privileges))
		for i, priv := range p.Privileges {
			privileges[i] = p.privilegeDocument(priv)
		}
		doc["privileges"] = privileges
	}

	if len(p.History) > 0 {
		history := make([]any, len(p.History))
		for i, upd := range p.History {
			history[i] = updateDocument(upd)
		}
		doc["history"] = history
	}

	if err := schema.SanitizeProvider(doc); err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Summary.ProviderID, err)
	}
	return doc, nil
}

func (p *Provider) licenseDocument(lic *License) map[string]any {
	doc := map[string]any{
		"type":          TypeLicense,
		"jurisdiction":  lic.Jurisdiction,
		"licenseType":   lic.LicenseType,
		"licenseStatus": lic.LicenseStatus,
		"status":        lic.ComputedStatus(p.EvaluatedAt),
		"dateOfUpdate":  lic.DateOfUpdate.UTC().Format(time.RFC3339),
	}
	if lic.LicenseNumber != "" {
		doc["licenseNumber"] = lic.LicenseNumber
	}
	if lic.DateOfIssuance != "" {
		doc["dateOfIssuance"] = lic.DateOfIssuance
	}
	if lic.DateOfRenewal != "" {
		doc["dateOfRenewal"] = lic.DateOfRenewal
	}
	if lic.DateOfExpiration != "" {
		doc["dateOfExpiration"] = lic.DateOfExpiration
	}
	return doc
}

func (p *Provider) privilegeDocument(priv *Privilege) map[string]any {
	doc := map[string]any{
		"type":         TypePrivilege,
		"privilegeId":  priv.PrivilegeID,
		"jurisdiction": priv.Jurisdiction,
		"licenseType":  priv.LicenseType,
		"status":       priv.ComputedStatus(p.MatchingLicense(priv), p.EvaluatedAt),
		"dateOfUpdate": priv.DateOfUpdate.UTC().Format(time.RFC3339),
	}
	if priv.DateOfIssuance != "" {
		doc["dateOfIssuance"] = priv.DateOfIssuance
	}
	if priv.DateOfExpiration != "" {
		doc["dateOfExpiration"] = priv.DateOfExpiration
	}
	return doc
}

func updateDocument(upd *Update) map[string]any {
	doc := map[string]any{
		"type":         TypeUpdate,
		"updateType":   upd.UpdateType,
		"dateOfUpdate": upd.CreatedAt.UTC().Format(time.RFC3339),
	}
	if upd.Jurisdiction != "" {
		doc["jurisdiction"] = upd.Jurisdiction
	}
	if upd.LicenseType != "" {
		doc["licenseType"] = upd.LicenseType
	}
	if len(upd.UpdatedValues) > 0 {
		doc["updatedValues"] = stringMapDoc(upd.UpdatedValues)
	}
	if len(upd.Previous) > 0 {
		doc["previous"] = stringMapDoc(upd.Previous)
	}
	return doc
}

func stringMapDoc(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
