// merge/fieldmap.go
package merge

import (
	"fmt"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
)

// Mapping renames one upstream label to an internal field.
type Mapping struct {
	Source string
	Field  string
}

// FieldMap is the declarative upstream-to-internal mapping of a table.
// A nil FieldMap maps every schema field from the label of the same name.
type FieldMap []Mapping

// Identity maps each name to itself.
func Identity(names ...string) FieldMap {
	m := make(FieldMap, len(names))
	for i, n := range names {
		m[i] = Mapping{Source: n, Field: n}
	}
	return m
}

// Validate checks that every schema field is produced by exactly one mapping
// and that no mapping targets an unknown field.
func (m FieldMap) Validate(s table.Schema) error {
	if m == nil {
		return nil
	}
	seen := make(map[string]int, len(m))
	for _, mp := range m {
		if s.Index(mp.Field) < 0 {
			return fmt.Errorf("field map for %s targets unknown field %q", s.Name, mp.Field)
		}
		seen[mp.Field]++
	}
	for _, f := range s.Fields {
		switch seen[f.Name] {
		case 1:
		case 0:
			return fmt.Errorf("field map for %s does not produce field %q", s.Name, f.Name)
		default:
			return fmt.Errorf("field map for %s produces field %q %d times", s.Name, f.Name, seen[f.Name])
		}
	}
	return nil
}

// Apply orders raw values by schema field. A mapped upstream label that is
// absent from the payload is schema drift.
func (m FieldMap) Apply(resource string, labels, values []string, s table.Schema) ([]string, error) {
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%s: %d labels for %d values", resource, len(labels), len(values))
	}
	mapping := m
	if mapping == nil {
		mapping = Identity(s.FieldNames()...)
	}
	if err := mapping.Validate(s); err != nil {
		return nil, err
	}
	byLabel := make(map[string]string, len(labels))
	for i, l := range labels {
		byLabel[l] = values[i]
	}
	out := make([]string, len(s.Fields))
	var missing []string
	for _, mp := range mapping {
		v, ok := byLabel[mp.Source]
		if !ok {
			missing = append(missing, mp.Source)
			continue
		}
		out[s.Index(mp.Field)] = v
	}
	if len(missing) > 0 {
		return nil, &models.SchemaDriftError{Resource: resource, Missing: missing}
	}
	return out, nil
}
