// services/family.go
package services

import (
	"context"

	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
)

// Family is the per-provider strategy the pipeline drives. Detect is side
// effect free; Merge folds one archived snapshot into the family's primary
// tables and Recompute rebuilds its derived tables from committed history.
type Family interface {
	Name() models.Family
	Source() models.Source
	Detect(ctx context.Context, expected string) (*models.FreshnessReport, error)
	// LastCommitted is the newest date of the family's marker table, "" if none.
	LastCommitted() (string, error)
	Merge(snap models.Snapshot, date string) ([]merge.Result, error)
	Recompute() error
}
