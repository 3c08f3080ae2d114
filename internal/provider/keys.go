package provider

import "fmt"

// Sort key segments within a provider partition. Every record belonging
// to one logical provider shares the partition key {compact}#PROVIDER#{id};
// the sort key selects the constituent record.
const (
	segmentLicense     = "license"
	segmentPrivilege   = "privilege"
	segmentHistory     = "hist"
	segmentHistoryFull = "histfull"
)

// Attribute names shared by provider records.
const (
	AttrType             = "type"
	AttrProviderID       = "providerId"
	AttrCompact          = "compact"
	AttrGivenName        = "givenName"
	AttrMiddleName       = "middleName"
	AttrFamilyName       = "familyName"
	AttrSSN              = "ssn"
	AttrNPI              = "npi"
	AttrJurisdiction     = "jurisdiction"
	AttrLicenseType      = "licenseType"
	AttrLicenseNumber    = "licenseNumber"
	AttrLicenseStatus    = "jurisdictionUploadedLicenseStatus"
	AttrDateOfBirth      = "dateOfBirth"
	AttrDateOfIssuance   = "dateOfIssuance"
	AttrDateOfRenewal    = "dateOfRenewal"
	AttrDateOfExpiration = "dateOfExpiration"
	AttrDateOfUpdate     = "dateOfUpdate"
	AttrLicenseJur       = "licenseJurisdiction"
	AttrPrivilegeJurs    = "privilegeJurisdictions"
	AttrPrivilegeID      = "privilegeId"
	AttrUpdateType       = "updateType"
	AttrUpdatedValues    = "updatedValues"
	AttrPrevious         = "previous"
)

// Record type discriminators stored in the type attribute.
const (
	TypeProviderSummary = "provider"
	TypeLicense         = "license"
	TypePrivilege       = "privilege"
	TypeUpdate          = "providerUpdate"
	TypeIdentity        = "providerIdentity"
)

// providerPK returns the partition key shared by all of a provider's
// records.
func providerPK(compact, providerID string) string {
	return fmt.Sprintf("%s#PROVIDER#%s", compact, providerID)
}

// summarySK returns the sort key of the provider summary record.
func summarySK(compact string) string {
	return fmt.Sprintf("%s#PROVIDER", compact)
}

// licenseSK returns the sort key of a license record.
func licenseSK(compact, jurisdiction, licenseType string) string {
	return fmt.Sprintf("%s#PROVIDER#%s/%s/%s#", compact, segmentLicense, jurisdiction, licenseType)
}

// privilegeSK returns the sort key of a privilege record.
func privilegeSK(compact, jurisdiction, licenseType string) string {
	return fmt.Sprintf("%s#PROVIDER#%s/%s/%s#", compact, segmentPrivilege, jurisdiction, licenseType)
}

// historySK returns the sort key of a diff-tier update record. createdAt
// is RFC3339, so records sort by creation time; id breaks ties.
func historySK(compact, createdAt, id string) string {
	return fmt.Sprintf("%s#PROVIDER#%s/%s/%s#", compact, segmentHistory, createdAt, id)
}

// historyFullSK returns the sort key of a full-snapshot update record.
func historyFullSK(compact, createdAt, id string) string {
	return fmt.Sprintf("%s#PROVIDER#%s/%s/%s#", compact, segmentHistoryFull, createdAt, id)
}

// identityPK returns the key of the identity-mapping record. Identity
// records live in their own partition keyed by the external identifier.
func identityPK(compact, externalID string) string {
	return fmt.Sprintf("%s#SSN#%s", compact, externalID)
}
