// models/source.go
package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Family identifies an upstream provider family.
type Family string

const (
	FamilyMTL   Family = "mtl"   // Santé Montréal
	FamilyINSPQ Family = "inspq" // Institut national de santé publique du Québec
	FamilyQC    Family = "qc"    // Québec.ca portal
)

// Families lists every provider family in processing order.
var Families = []Family{FamilyMTL, FamilyINSPQ, FamilyQC}

// ParseFamily maps a user-supplied name to a Family.
func ParseFamily(name string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown source family %q", name)
}

// Resource is one named upstream document. Name doubles as the snapshot file name.
type Resource struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Source is a provider family with its ordered resources.
type Source struct {
	Family    Family
	Resources []Resource
}

// Resource returns the named resource.
func (s Source) Resource(name string) (Resource, bool) {
	for _, r := range s.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// File is fetched content ready to be archived.
type File struct {
	Name    string
	Content []byte
}

// Snapshot is the immutable output of one fetch cycle.
type Snapshot struct {
	Dir     string
	Date    string
	Version int // 1 for the un-suffixed directory
	Files   []string
}

// Path returns the path of a file inside the snapshot.
func (s Snapshot) Path(name string) string {
	return filepath.Join(s.Dir, name)
}
