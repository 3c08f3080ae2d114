// Package schema provides record validation and output sanitization. Each
// record type has a JSON Schema compiled at construction; callers validate
// raw decoded JSON before it is trusted, and sanitize records before they
// leave the service.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer renders schema violation messages.
var printer = message.NewPrinter(language.English)

// ValidationError reports per-field validation failures. It is a client
// input error; field messages are safe to return to callers.
type ValidationError struct {
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("validation failed for fields: %s", strings.Join(fields, ", "))
}

// Validator validates raw decoded JSON against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// newValidator compiles a schema document. Compilation failures are
// programming errors; constructors panic via Must* wrappers at startup.
func newValidator(name, doc string) (*Validator, error) {
	compiled, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(name, compiled); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{schema: sch}, nil
}

func mustValidator(name, doc string) *Validator {
	v, err := newValidator(name, doc)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw against the schema. Schema violations return a
// *ValidationError; anything else is an internal error.
func (v *Validator) Validate(raw any) error {
	err := v.schema.Validate(raw)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	fieldErrors := make(map[string]string)
	collectCauses(verr, fieldErrors)
	return &ValidationError{FieldErrors: fieldErrors}
}

// collectCauses flattens the validation error tree into field → message.
func collectCauses(verr *jsonschema.ValidationError, out map[string]string) {
	if len(verr.Causes) == 0 {
		field := strings.Join(verr.InstanceLocation, ".")
		if field == "" {
			field = "(record)"
		}
		if _, seen := out[field]; !seen {
			out[field] = verr.ErrorKind.LocalizedString(printer)
		}
		return
	}
	for _, cause := range verr.Causes {
		collectCauses(cause, out)
	}
}
