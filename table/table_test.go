package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeremymoreau/covid19mtl/models"
)

var boroughSchema = Schema{
	Name:   "cases.csv",
	Key:    "borough",
	Layout: Wide,
	Fields: IntFields("Anjou", "Verdun"),
}

var dailySchema = Schema{
	Name:   "data_qc.csv",
	Key:    "date",
	Layout: Long,
	Fields: []Field{{Name: "cases", Kind: Int}, {Name: "rate", Kind: Float, Decimals: 1}},
}

func TestAppendReturnsNewTable(t *testing.T) {
	base := New(dailySchema)
	one, err := base.Append("2021-06-01", []string{"100", "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	two, err := one.Append("2021-06-02", []string{"120", "na"})
	if err != nil {
		t.Fatal(err)
	}
	if base.Len() != 0 || one.Len() != 1 || two.Len() != 2 {
		t.Errorf("lengths = %d/%d/%d; want 0/1/2", base.Len(), one.Len(), two.Len())
	}
	// branching from the same parent must not clobber a sibling
	other, err := one.Append("2021-06-03", []string{"130", "na"})
	if err != nil {
		t.Fatal(err)
	}
	if k, _, _ := two.Last(); k != "2021-06-02" {
		t.Errorf("two.Last() = %s after sibling append", k)
	}
	if k, _, _ := other.Last(); k != "2021-06-03" {
		t.Errorf("other.Last() = %s", k)
	}
}

func TestAppendRejectsOutOfOrderKey(t *testing.T) {
	tbl, _ := New(dailySchema).Append("2021-06-02", []string{"1", "1.0"})
	for _, key := range []string{"2021-06-02", "2021-06-01"} {
		if _, err := tbl.Append(key, []string{"2", "2.0"}); !errors.Is(err, ErrKeyOrder) {
			t.Errorf("Append(%s) error = %v; want ErrKeyOrder", key, err)
		}
	}
}

func TestAppendValidatesKinds(t *testing.T) {
	_, err := New(dailySchema).Append("2021-06-01", []string{"12a", "1.0"})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Append() error = %v; want *ParseError", err)
	}
	if pe.Field != "cases" {
		t.Errorf("ParseError.Field = %s; want cases", pe.Field)
	}
}

func TestRecentCommittedSkipsSentinels(t *testing.T) {
	tbl, _ := FromRows(dailySchema,
		[]string{"2021-06-01", "2021-06-02", "2021-06-03"},
		[][]string{{"1", "1.0"}, {"2", "2.0"}, {"na", "na"}})
	keys, rows := tbl.RecentCommitted(1)
	if len(keys) != 1 || keys[0] != "2021-06-02" || rows[0][0] != "2" {
		t.Errorf("RecentCommitted(1) = %v %v", keys, rows)
	}
}

func TestWideRoundTrip(t *testing.T) {
	tbl, err := FromRows(boroughSchema,
		[]string{"2021-06-01", "2021-06-02"},
		[][]string{{"10", "20"}, {"na", "na"}})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, tbl); err != nil {
		t.Fatal(err)
	}
	want := "borough,2021-06-01,2021-06-02\nAnjou,10,na\nVerdun,20,na\n"
	if buf.String() != want {
		t.Errorf("Encode() =\n%s\nwant\n%s", buf.String(), want)
	}
	back, err := Decode(strings.NewReader(want), boroughSchema)
	if err != nil {
		t.Fatal(err)
	}
	if row, _ := back.Row("2021-06-01"); row[1] != "20" {
		t.Errorf("decoded Verdun on 2021-06-01 = %s; want 20", row[1])
	}
}

func TestDecodeDetectsDrift(t *testing.T) {
	_, err := Decode(strings.NewReader("date,cases\n2021-06-01,1\n"), dailySchema)
	if !errors.Is(err, models.ErrSchemaDrift) {
		t.Fatalf("Decode() error = %v; want schema drift", err)
	}
	_, err = Decode(strings.NewReader("borough,2021-06-01\nAnjou,1\n"), boroughSchema)
	if !errors.Is(err, models.ErrSchemaDrift) {
		t.Fatalf("Decode(wide) error = %v; want schema drift", err)
	}
}

func TestLoadMissingIsEmptyAndSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "data_qc.csv")
	tbl, err := Load(path, dailySchema)
	if err != nil || tbl.Len() != 0 {
		t.Fatalf("Load(missing) = %d rows, %v", tbl.Len(), err)
	}
	tbl, _ = tbl.Append("2021-06-01", []string{"5", "0.5"})
	if err := Save(path, tbl); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path, dailySchema)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 1 {
		t.Errorf("reloaded %d rows; want 1", got.Len())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("processed dir has %d entries; want 1 (no temp files left)", len(entries))
	}
}
