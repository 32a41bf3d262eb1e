package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// WithReflected registers a schema reflected from the Go type of v. Field
// names follow json tags, fields without omitempty are required, unknown
// properties are rejected, and `jsonschema` struct tags (enum, maxLength, ...)
// add constraints.
func WithReflected(version, action string, isResponse bool, v any) Option {
	return func(c *config) {
		doc, err := reflectSchema(v)
		if err != nil {
			c.errs = append(c.errs, fmt.Errorf("reflect schema %s/%s: %w", version, action, err))
			return
		}
		WithSchema(version, action, isResponse, doc)(c)
	}
}

func reflectSchema(v any) ([]byte, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(v)
	if s == nil {
		return nil, fmt.Errorf("no schema for %T", v)
	}
	// gojsonschema does not know the 2020-12 meta-schema; the reflected
	// keywords are all valid draft-04/07 keywords.
	s.Version = ""
	return json.Marshal(s)
}
