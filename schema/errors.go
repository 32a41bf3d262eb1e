package schema

import (
	"fmt"
	"strings"
)

// ValidationError describes why a payload failed its schema.
type ValidationError struct {
	Version    string
	Action     string
	IsResponse bool
	// Details holds one entry per violated constraint, in "field: reason" form.
	Details []string
}

func (e *ValidationError) Error() string {
	dir := "request"
	if e.IsResponse {
		dir = "response"
	}
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s %s %s payload is invalid", e.Version, e.Action, dir)
	}
	return fmt.Sprintf("%s %s %s payload is invalid: %s", e.Version, e.Action, dir, strings.Join(e.Details, "; "))
}
