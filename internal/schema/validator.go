// Package schema validates raw event objects against the wearable event
// JSON Schema document.
package schema

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation is one schema violation, addressed by the JSON Pointer of the
// offending field ("" means the event object itself).
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validator checks event objects against a single schema document compiled
// once at construction. Validation is purely functional and safe for
// concurrent use across requests.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the JSON Schema document at path. The document is
// Draft-07 with format assertions (uuid, date-time) enforced. A missing or
// malformed document is an error; callers treat it as fatal at startup.
func NewValidator(path string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true

	sch, err := c.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema %q: %w", path, err)
	}
	return &Validator{schema: sch}, nil
}

// Validate returns every violation for the given decoded JSON value, sorted by
// the structural path of the violating field. An empty result means the event
// is schema-valid. Unknown extra fields pass unless the schema forbids them.
func (v *Validator) Validate(obj interface{}) []Violation {
	err := v.schema.Validate(obj)
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Message: err.Error()}}
	}

	violations := flatten(ve, nil)
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Message < violations[j].Message
	})
	return violations
}

// flatten walks the cause tree and keeps only leaf errors; intermediate nodes
// repeat "doesn't validate with" noise that hides the real failure.
func flatten(ve *jsonschema.ValidationError, out []Violation) []Violation {
	if len(ve.Causes) == 0 {
		return append(out, Violation{
			Path:    ve.InstanceLocation,
			Message: ve.Message,
		})
	}
	for _, cause := range ve.Causes {
		out = flatten(cause, out)
	}
	return out
}
