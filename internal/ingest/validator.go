package ingest

import (
	"errors"

	"github.com/licensecompact/provider-data/internal/schema"
)

// RowError describes a rejected row. Fields carries only values that
// independently pass the public-safe schema, so the error can be
// reported outside the service without leaking identifiers.
type RowError struct {
	RowNumber int               `json:"recordNumber"`
	Errors    map[string]string `json:"errors"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// ValidateRow checks one raw row against the strict license schema and
// converts it to a typed row. On rejection the returned RowError holds
// per-field messages and the redacted field values.
func ValidateRow(raw *RawRow) (LicenseRow, *RowError) {
	if err := schema.ValidateLicenseRow(raw.Fields); err != nil {
		fieldErrors := map[string]string{"(record)": err.Error()}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			fieldErrors = verr.FieldErrors
		}
		return LicenseRow{}, &RowError{
			RowNumber: raw.Number,
			Errors:    fieldErrors,
			Fields:    schema.RedactRow(raw.Fields),
		}
	}
	row := rowFromMap(raw.Fields)
	row.RecordNumber = raw.Number
	return row, nil
}
