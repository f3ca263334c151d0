// models/errors.go
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaDrift is matched by every error caused by an upstream column or
// field disappearing or changing shape. It is fatal and never retried.
var ErrSchemaDrift = errors.New("schema drift")

// SchemaDriftError describes which resource drifted and how.
type SchemaDriftError struct {
	Resource string
	Missing  []string
	Detail   string
}

func (e *SchemaDriftError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema drift in %s", e.Resource)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(quoteAll(e.Missing), ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *SchemaDriftError) Is(target error) bool { return target == ErrSchemaDrift }

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
