package schema

import "fmt"

// providerOutputDoc is the sanitization schema every provider record
// passes before leaving the service, whether through the API or into the
// search index. additionalProperties is false so an internal field leaking
// into the wrong record (an SSN on a license row, say) is a hard failure,
// never a silent passthrough.
const providerOutputDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["providerId", "compact", "givenName", "familyName"],
  "properties": {
    "providerId": {"type": "string"},
    "compact": {"type": "string"},
    "type": {"type": "string", "const": "provider"},
    "givenName": {"type": "string"},
    "middleName": {"type": "string"},
    "familyName": {"type": "string"},
    "npi": {"type": "string"},
    "licenseJurisdiction": {"type": "string"},
    "privilegeJurisdictions": {"type": "array", "items": {"type": "string"}},
    "jurisdictionUploadedLicenseStatus": {"type": "string", "enum": ["active", "inactive"]},
    "compactEligibility": {"type": "string", "enum": ["eligible", "ineligible"]},
    "status": {"type": "string", "enum": ["active", "inactive"]},
    "dateOfExpiration": {"type": "string"},
    "dateOfUpdate": {"type": "string"},
    "licenses": {"type": "array", "items": {"$ref": "#/$defs/license"}},
    "privileges": {"type": "array", "items": {"$ref": "#/$defs/privilege"}},
    "history": {"type": "array", "items": {"$ref": "#/$defs/update"}}
  },
  "additionalProperties": false,
  "$defs": {
    "license": {
      "type": "object",
      "required": ["jurisdiction", "licenseType", "licenseStatus"],
      "properties": {
        "type": {"type": "string", "const": "license"},
        "jurisdiction": {"type": "string"},
        "licenseType": {"type": "string"},
        "licenseNumber": {"type": "string"},
        "dateOfIssuance": {"type": "string"},
        "dateOfRenewal": {"type": "string"},
        "dateOfExpiration": {"type": "string"},
        "licenseStatus": {"type": "string", "enum": ["active", "inactive"]},
        "status": {"type": "string", "enum": ["active", "inactive"]},
        "dateOfUpdate": {"type": "string"}
      },
      "additionalProperties": false
    },
    "privilege": {
      "type": "object",
      "required": ["jurisdiction", "licenseType"],
      "properties": {
        "type": {"type": "string", "const": "privilege"},
        "privilegeId": {"type": "string"},
        "jurisdiction": {"type": "string"},
        "licenseType": {"type": "string"},
        "dateOfIssuance": {"type": "string"},
        "dateOfExpiration": {"type": "string"},
        "status": {"type": "string", "enum": ["active", "inactive"]},
        "dateOfUpdate": {"type": "string"}
      },
      "additionalProperties": false
    },
    "update": {
      "type": "object",
      "required": ["updateType", "dateOfUpdate"],
      "properties": {
        "type": {"type": "string", "const": "providerUpdate"},
        "updateType": {"type": "string"},
        "jurisdiction": {"type": "string"},
        "licenseType": {"type": "string"},
        "dateOfUpdate": {"type": "string"},
        "updatedValues": {"type": "object"},
        "previous": {"type": "object"}
      },
      "additionalProperties": false
    }
  }
}`

var providerOutputValidator = mustValidator("provider-output.json", providerOutputDoc)

// SanitizeProvider validates an outbound provider document against the
// output schema. A failure here is an internal error, not client input:
// the service assembled a record it must never release.
func SanitizeProvider(doc map[string]any) error {
	if err := providerOutputValidator.Validate(doc); err != nil {
		return fmt.Errorf("provider record failed output sanitization: %v", err)
	}
	return nil
}
