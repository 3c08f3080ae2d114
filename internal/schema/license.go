package schema

// licenseRowDoc is the strict ingest schema for one jurisdiction-reported
// license row. Eligibility fields are deliberately absent: they are
// computed, never ingested.
const licenseRowDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "ssn", "givenName", "familyName", "jurisdiction", "licenseType",
    "dateOfBirth", "dateOfIssuance", "dateOfExpiration", "licenseStatus"
  ],
  "properties": {
    "ssn": {"type": "string", "pattern": "^[0-9]{3}-[0-9]{2}-[0-9]{4}$"},
    "npi": {"type": "string", "pattern": "^[0-9]{10}$"},
    "givenName": {"type": "string", "minLength": 1, "maxLength": 100},
    "middleName": {"type": "string", "maxLength": 100},
    "familyName": {"type": "string", "minLength": 1, "maxLength": 100},
    "jurisdiction": {"type": "string", "pattern": "^[a-z]{2}$"},
    "licenseType": {"type": "string", "minLength": 1, "maxLength": 100},
    "licenseNumber": {"type": "string", "maxLength": 100},
    "dateOfBirth": {"type": "string", "format": "date", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "dateOfIssuance": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "dateOfRenewal": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "dateOfExpiration": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "licenseStatus": {"type": "string", "enum": ["active", "inactive"]},
    "emailAddress": {"type": "string", "format": "email", "maxLength": 100},
    "phoneNumber": {"type": "string", "pattern": "^\\+[0-9]{8,15}$"}
  },
  "additionalProperties": false
}`

// publicRowDoc is the looser, public-safe schema used when reporting
// validation failures. Only fields listed here may appear in a
// validation-error event, and only when they individually validate.
// Identifiers, birth dates, and contact details are excluded.
const publicRowDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "givenName": {"type": "string", "minLength": 1, "maxLength": 100},
    "middleName": {"type": "string", "maxLength": 100},
    "familyName": {"type": "string", "minLength": 1, "maxLength": 100},
    "jurisdiction": {"type": "string", "pattern": "^[a-z]{2}$"},
    "licenseType": {"type": "string", "minLength": 1, "maxLength": 100},
    "dateOfIssuance": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "dateOfRenewal": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "dateOfExpiration": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "licenseStatus": {"type": "string", "enum": ["active", "inactive"]}
  },
  "additionalProperties": false
}`

var (
	licenseRowValidator = mustValidator("license-row.json", licenseRowDoc)
	publicRowValidator  = mustValidator("public-row.json", publicRowDoc)
)

// ValidateLicenseRow validates one raw ingest row against the strict
// schema. Returns *ValidationError on schema violations.
func ValidateLicenseRow(raw map[string]any) error {
	return licenseRowValidator.Validate(raw)
}

// RedactRow reduces a raw row to the fields that independently pass the
// public-safe schema. Fields that failed validation, or that the public
// schema does not list, never appear in the result.
func RedactRow(raw map[string]any) map[string]any {
	safe := make(map[string]any)
	for field, value := range raw {
		candidate := map[string]any{field: value}
		if err := publicRowValidator.Validate(candidate); err == nil {
			safe[field] = value
		}
	}
	return safe
}
