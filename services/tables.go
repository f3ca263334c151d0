// services/tables.go
package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/metrics"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// tableStore resolves processed tables under one directory.
type tableStore struct {
	dir    string
	merger *merge.Merger
	logger *utils.Logger
}

func (s tableStore) path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

func (s tableStore) load(schema table.Schema) (table.Table, error) {
	return table.Load(s.path(schema.Name), schema)
}

func (s tableStore) save(t table.Table) error {
	if err := table.Save(s.path(t.Schema().Name), t); err != nil {
		return err
	}
	s.logger.Debug("[tables] wrote %s (%d rows)", t.Schema().Name, t.Len())
	return nil
}

func (s tableStore) merge(schema table.Schema, day merge.Day, plan merge.Plan) (merge.Result, error) {
	return s.merger.MergeFile(s.path(schema.Name), schema, day, plan)
}

// lastDate is the newest committed key of a table, or "" when it is empty.
func (s tableStore) lastDate(schema table.Schema) (string, error) {
	t, err := s.load(schema)
	if err != nil {
		return "", err
	}
	key, _, _ := t.Last()
	return key, nil
}

// appendLatest copies the newest row of src into dst unless dst already holds that date.
func (s tableStore) appendLatest(src table.Schema, dst table.Schema) (merge.Result, error) {
	res := merge.Result{Table: dst.Name, Outcome: merge.AlreadyCommitted}
	from, err := s.load(src)
	if err != nil {
		return res, err
	}
	key, row, ok := from.Last()
	if !ok {
		return res, nil
	}
	res.Date = key
	totals, err := s.load(dst)
	if err != nil {
		return res, err
	}
	if totals.Has(key) {
		return res, nil
	}
	out, err := totals.Append(key, row)
	if err != nil {
		return res, fmt.Errorf("append %s to %s: %w", key, dst.Name, err)
	}
	if err := s.save(out); err != nil {
		return res, err
	}
	res.Outcome = merge.Appended
	if table.IsSentinel(row) {
		res.Outcome = merge.Sentinel
	}
	s.logger.Info("[tables] %s: copied latest row %s from %s", dst.Name, key, src.Name)
	return res, nil
}

// replace rebuilds a whole table from one snapshot. An unchanged table is
// left on disk as it is.
func (s tableStore) replace(date string, build func() (table.Table, error)) (merge.Result, error) {
	t, err := build()
	if err != nil {
		return merge.Result{Date: date, Outcome: merge.AlreadyCommitted}, err
	}
	res := merge.Result{Table: t.Schema().Name, Date: date, Outcome: merge.AlreadyCommitted}
	old, err := s.load(t.Schema())
	if err != nil {
		return res, err
	}
	if old.Equal(t) {
		return res, nil
	}
	if err := s.save(t); err != nil {
		return res, err
	}
	res.Outcome = merge.Replaced
	s.logger.Info("[tables] %s: replaced with %d rows", t.Schema().Name, t.Len())
	return res, nil
}

// derive builds a table from committed history and saves it.
func (s tableStore) derive(build func() (table.Table, error)) error {
	t, err := build()
	if err != nil {
		return err
	}
	return s.save(t)
}

// readResource returns the archived text of one resource.
func readResource(snap models.Snapshot, name string) (string, error) {
	b, err := os.ReadFile(snap.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("snapshot %s has no %s: %w", snap.Dir, name, err)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", snap.Path(name), err)
	}
	return string(b), nil
}

// resourceURL looks up the URL of a named resource of src.
func resourceURL(src models.Source, name string) (string, error) {
	r, ok := src.Resource(name)
	if !ok {
		return "", fmt.Errorf("sources.%s: resource %q is not configured", src.Family, name)
	}
	return r.URL, nil
}

// populationsOf indexes configured populations by field name.
func populationsOf(ps []config.Population) metrics.Populations {
	out := make(metrics.Populations, len(ps))
	for _, p := range ps {
		out[p.Name] = p.Population
	}
	return out
}
