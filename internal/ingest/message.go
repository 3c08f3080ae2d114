// Package ingest implements the license ingestion pipeline: streaming
// row validation, batching to a durable queue, and the transactional
// commit consumer.
package ingest

// LicenseRow is one validated jurisdiction-reported license row. Field
// names mirror the upload columns. RecordNumber is the row's position
// in the uploaded file, kept so commit-stage diagnostics point at the
// same row the validate stage would.
type LicenseRow struct {
	RecordNumber     int    `json:"recordNumber"`
	SSN              string `json:"ssn"`
	NPI              string `json:"npi,omitempty"`
	GivenName        string `json:"givenName"`
	MiddleName       string `json:"middleName,omitempty"`
	FamilyName       string `json:"familyName"`
	Jurisdiction     string `json:"jurisdiction"`
	LicenseType      string `json:"licenseType"`
	LicenseNumber    string `json:"licenseNumber,omitempty"`
	DateOfBirth      string `json:"dateOfBirth"`
	DateOfIssuance   string `json:"dateOfIssuance"`
	DateOfRenewal    string `json:"dateOfRenewal,omitempty"`
	DateOfExpiration string `json:"dateOfExpiration"`
	LicenseStatus    string `json:"licenseStatus"`
	EmailAddress     string `json:"emailAddress,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
}

// CommitMessage is the SQS message body carrying one batch of validated
// rows from the validator to the commit consumer.
type CommitMessage struct {
	Compact      string       `json:"compact"`
	Jurisdiction string       `json:"jurisdiction"`
	UploadID     string       `json:"uploadId"`
	Rows         []LicenseRow `json:"rows"`
}

// rowFromMap is the explicit deserializer from a schema-validated raw
// row. Only called after validation, so unknown keys cannot appear.
func rowFromMap(raw map[string]any) LicenseRow {
	str := func(key string) string {
		if v, ok := raw[key].(string); ok {
			return v
		}
		return ""
	}
	return LicenseRow{
		SSN:              str("ssn"),
		NPI:              str("npi"),
		GivenName:        str("givenName"),
		MiddleName:       str("middleName"),
		FamilyName:       str("familyName"),
		Jurisdiction:     str("jurisdiction"),
		LicenseType:      str("licenseType"),
		LicenseNumber:    str("licenseNumber"),
		DateOfBirth:      str("dateOfBirth"),
		DateOfIssuance:   str("dateOfIssuance"),
		DateOfRenewal:    str("dateOfRenewal"),
		DateOfExpiration: str("dateOfExpiration"),
		LicenseStatus:    str("licenseStatus"),
		EmailAddress:     str("emailAddress"),
		PhoneNumber:      str("phoneNumber"),
	}
}
