package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
	"github.com/jeremymoreau/covid19mtl/utils"
)

var qcAgeBrackets = []string{"0_4", "5_11", "12_17", "18_24", "25_29", "30_34", "35_39", "40_44", "45_49", "50_54", "55_59", "60_64", "65_69", "70_74", "75_79", "80_84", "85_110"}

// qcAgeFixture has an older first row and a last row holding 100 doses of
// dose n in every bracket.
func qcAgeFixture() string {
	var header, old, last []string
	header = append(header, "Date")
	old = append(old, "2021-05-31")
	last = append(last, "2021-06-01")
	for d := 1; d <= 3; d++ {
		for _, b := range qcAgeBrackets {
			header = append(header, fmt.Sprintf("Age_%s_ans_DOSE_Numero%d_cumu", b, d))
			old = append(old, "1")
			last = append(last, fmt.Sprintf("%d.0", 100*d))
		}
	}
	return strings.Join(header, ",") + "\n" + strings.Join(old, ",") + "\n" + strings.Join(last, ",") + "\n"
}

const fixtureByStatus = "Num,Date,Statut_Vaccinal,Groupe_Age,Nb_Nvx_Cas\n" +
	"1,2021-06-01,0-4 ans,0-4 ans,2\n" +
	"2,2021-06-01,Non-vacciné,18-29 ans,10\n" +
	"3,2021-06-01,Non-vacciné,30-39 ans,5\n" +
	"4,2021-06-01,Vacciné 1 dose,18-29 ans,4\n" +
	"5,2021-06-01,Vacciné 2 doses,18-29 ans,3\n" +
	"6,2021-06-01,Vacciné 3 doses,18-29 ans,1\n" +
	"7,2021-06-01,Inconnu,18-29 ans,50\n" +
	"8,2021-05-31,0-4 ans,0-4 ans,1\n" +
	"9,2021-05-31,Non-vacciné,18-29 ans,7\n" +
	"10,2021-05-31,Vacciné 2 doses,18-29 ans,2\n"

// mtlVaccinationFixture publishes 10 unvaccinated, 100 first and 50 second
// doses per group. The youngest group has null dose counts.
func mtlVaccinationFixture() string {
	var features []string
	for i, g := range mtlAgeSources {
		d1, d2 := "100", "50"
		if i == 0 {
			d1, d2 = "null", "null"
		}
		features = append(features, fmt.Sprintf(
			`{"attributes":{"Groupe_d_âge":%q,"Nombre_de_personnes_non_vacciné":10,"Nombre_de_personnes_ayant_reçu_":%s,"Nombre_de_personnes_ayant_reçu1":%s}}`,
			g, d1, d2))
	}
	features = append(features,
		`{"attributes":{"Groupe_d_âge":"Tous les âges","Nombre_de_personnes_non_vacciné":200,"Nombre_de_personnes_ayant_reçu_":900,"Nombre_de_personnes_ayant_reçu1":450}}`)
	return `{"objectIdFieldName":"ObjectId","features":[` + strings.Join(features, ",") + `]}`
}

func encodeTable(t *testing.T, tbl table.Table) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := table.Save(path, tbl); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestQCVaccinationAge(t *testing.T) {
	tbl, err := qcVaccinationAge(qcAgeFixture())
	if err != nil {
		t.Fatalf("qcVaccinationAge() error = %v", err)
	}
	want := "age,0d,1d,2d,3d\n" +
		"0-4,na,100,200,300\n" +
		"5-11,na,100,200,300\n" +
		"12-17,na,100,200,300\n" +
		"18-29,na,200,400,600\n" +
		"30-39,na,200,400,600\n" +
		"40-49,na,200,400,600\n" +
		"50-59,na,200,400,600\n" +
		"60-69,na,200,400,600\n" +
		"70-79,na,200,400,600\n" +
		"80+,na,200,400,600\n" +
		"5+,na,1600,3200,4800\n" +
		"total,na,1700,3400,5100\n"
	if got := encodeTable(t, tbl); got != want {
		t.Errorf("data_qc_vaccination_age.csv =\n%s\nwant\n%s", got, want)
	}

	drifted := strings.Replace(qcAgeFixture(), "Age_85_110_ans_DOSE_Numero2_cumu", "Age_85_plus_ans_DOSE_Numero2_cumu", 1)
	if _, err := qcVaccinationAge(drifted); !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("renamed bracket error = %v; want schema drift", err)
	}
}

func TestByVaccinationStatus(t *testing.T) {
	s := statusSchema("data_qc_cases_by_vaccination_status")
	tbl, err := byVaccinationStatus(s, qcCasesByStatus, fixtureByStatus)
	if err != nil {
		t.Fatalf("byVaccinationStatus() error = %v", err)
	}
	want := "date,0d,1d,2d,3d\n" +
		"2021-05-31,8,0,2,0\n" +
		"2021-06-01,17,4,3,1\n"
	if got := encodeTable(t, tbl); got != want {
		t.Errorf("table =\n%s\nwant\n%s", got, want)
	}
}

func TestByVaccinationStatusDrift(t *testing.T) {
	s := statusSchema("data_qc_hosp_by_vaccination_status")
	tests := []struct {
		name    string
		content string
	}{
		{"missing status column", strings.Replace(fixtureByStatus, "Statut_Vaccinal", "Statut", 1)},
		{"extra count column", strings.Replace(fixtureByStatus, "Nb_Nvx_Cas\n", "Nb_Nvx_Cas,Taux\n", 1)},
		{"unexpected status", fixtureByStatus + "11,2021-06-01,Vacciné 4 doses,18-29 ans,1\n"},
		{"bad date", fixtureByStatus + "11,06/01/2021,Non-vacciné,18-29 ans,1\n"},
		{"fractional count", fixtureByStatus + "11,2021-06-01,Non-vacciné,18-29 ans,1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := byVaccinationStatus(s, qcHospByStatus, tt.content); !errors.Is(err, models.ErrSchemaDrift) {
				t.Errorf("error = %v; want schema drift", err)
			}
		})
	}
}

func TestMTLVaccinationAge(t *testing.T) {
	tbl, err := mtlVaccinationAge(mtlVaccinationFixture())
	if err != nil {
		t.Fatalf("mtlVaccinationAge() error = %v", err)
	}
	want := "age,0d,1d,2d,3d\n" +
		"0-4,10,0,0,0\n" +
		"5-11,10,100,50,0\n" +
		"12-17,10,100,50,0\n" +
		"18-29,10,100,50,0\n" +
		"30-39,10,100,50,0\n" +
		"40-49,10,100,50,0\n" +
		"50-59,10,100,50,0\n" +
		"60-69,10,100,50,0\n" +
		"70-79,10,100,50,0\n" +
		"80+,10,100,50,0\n" +
		"12+,80,800,400,0\n" +
		"total,200,900,450,0\n"
	if got := encodeTable(t, tbl); got != want {
		t.Errorf("data_mtl_vaccination_age.csv =\n%s\nwant\n%s", got, want)
	}

	if _, err := mtlVaccinationAge(strings.Replace(mtlVaccinationFixture(), "Tous les âges", "Total", 1)); !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("missing total error = %v; want schema drift", err)
	}
	if _, err := mtlVaccinationAge("<html>maintenance</html>"); !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("non-JSON body error = %v; want schema drift", err)
	}
}

func TestStoreReplaceKeepsUnchangedTable(t *testing.T) {
	store := tableStore{dir: t.TempDir(), merger: &merge.Merger{}, logger: utils.Discard()}
	build := func() (table.Table, error) { return mtlVaccinationAge(mtlVaccinationFixture()) }

	res, err := store.replace("2021-06-01", build)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != merge.Replaced || res.Table != "data_mtl_vaccination_age" {
		t.Errorf("first replace = %+v; want replaced", res)
	}
	res, err = store.replace("2021-06-01", build)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != merge.AlreadyCommitted {
		t.Errorf("second replace outcome = %s; want already committed", res.Outcome)
	}
}
