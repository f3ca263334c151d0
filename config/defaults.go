// config/defaults.go
package config

import "github.com/jeremymoreau/covid19mtl/models"

const (
	santeMTL = "https://santemontreal.qc.ca/fileadmin/fichiers/Campagnes/coronavirus/situation-montreal/"
	inspq    = "https://www.inspq.qc.ca/sites/default/files/covid/donnees/"
	qcCDN    = "https://cdn-contenu.quebec.ca/cdn-contenu/sante/documents/Problemes_de_sante/covid-19/csv/"
	msss     = "https://msss.gouv.qc.ca/professionnels/statistiques/documents/covid19/"
	qcPortal = "https://www.quebec.ca/en/health/health-issues/a-z/2019-coronavirus/situation-coronavirus-in-quebec/"
)

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		DataDir:  "app/data",
		Timezone: "America/Montreal",
		Fetch: FetchConfig{
			Retries:           3,
			TimeoutStr:        "30s",
			BaseDelayStr:      "2s",
			RequestsPerSecond: 2,
		},
		Merge: MergeConfig{Lookback: 1},
		Sources: SourcesConfig{
			MTL: []models.Resource{
				{Name: "data_mtl.html", URL: "https://santemontreal.qc.ca/en/public/coronavirus-covid-19/situation-of-the-coronavirus-covid-19-in-montreal"},
				{Name: "data_mtl_ciuss.csv", URL: santeMTL + "ciusss.csv"},
				{Name: "data_mtl_municipal.csv", URL: santeMTL + "municipal.csv"},
				{Name: "data_mtl_age.csv", URL: santeMTL + "grage.csv"},
				{Name: "data_mtl_sex.csv", URL: santeMTL + "sexe.csv"},
				{Name: "data_mtl_new_cases.csv", URL: santeMTL + "courbe.csv"},
				{Name: "data_mtl_vaccination_by_age.json", URL: "https://services5.arcgis.com/pBN1lh7yaF4K7Tod/arcgis/rest/services/VAXparGrpAGE_CSVuploadv3_ADEQ/FeatureServer/0/query?f=json&where=1%3D1&returnGeometry=false&spatialRel=esriSpatialRelIntersects&outFields=*"},
			},
			INSPQ: []models.Resource{
				{Name: "data_qc.csv", URL: inspq + "covid19-hist.csv"},
				{Name: "data_qc_regions.csv", URL: inspq + "regions.csv"},
				{Name: "data_qc_manual_data.csv", URL: inspq + "manual-data.csv"},
				{Name: "data_qc_cases_by_network.csv", URL: inspq + "tableau-rls-new.csv"},
				{Name: "data_qc_death_loc_by_region.csv", URL: inspq + "tableau-rpa-new.csv"},
				{Name: "data_qc_vaccination.csv", URL: inspq + "vaccination.csv"},
				{Name: "data_qc_variants.csv", URL: inspq + "variants-cumul.csv"},
				{Name: "data_qc_preconditions.csv", URL: inspq + "comorbidite.csv"},
			},
			QC: []models.Resource{
				{Name: "QC_situation.html", URL: qcPortal},
				{Name: "QC_vaccination.html", URL: qcPortal + "covid-19-vaccination-data/"},
				{Name: "data_qc_outbreaks.csv", URL: qcCDN + "eclosions-par-milieu.csv"},
				{Name: "data_qc_vaccines_by_region.csv", URL: qcCDN + "auto/COVID19_Qc_Vaccination_RegionAdministration.csv"},
				{Name: "data_qc_vaccines_received.csv", URL: qcCDN + "doses-vaccins-7jours.csv"},
				{Name: "data_qc_vaccines_situation.csv", URL: qcCDN + "situation-vaccination.csv"},
				{Name: "data_qc_vaccination_by_age.csv", URL: msss + "COVID19_Qc_Vaccination_CatAge.csv"},
				{Name: "data_qc_cases_by_vaccination_status.csv", URL: msss + "COVID19_Qc_RapportINSPQ_CasSelonStatutVaccinalEtAge.csv"},
				{Name: "data_qc_hosp_by_vaccination_status.csv", URL: msss + "COVID19_Qc_RapportINSPQ_HospitalisationsSelonStatutVaccinalEtAge.csv"},
			},
		},
		Selectors: SelectorsConfig{
			MTLDate:      "div.csc-textpic-text p.bodytext",
			MTLNewCases:  "div.csc-textpic-text table.contenttable",
			QCSourceLine: "div.ce-textpic div.ce-bodytext p",
		},
		Populations: PopulationsConfig{
			Boroughs: []Population{
				{Name: "Ahuntsic-Cartierville", Population: 134245},
				{Name: "Anjou", Population: 42796},
				{Name: "Baie-D'Urfé", Population: 3823},
				{Name: "Beaconsfield", Population: 19324},
				{Name: "Côte-des-Neiges–Notre-Dame-de-Grâce", Population: 166520},
				{Name: "Côte-Saint-Luc", Population: 32448},
				{Name: "Dollard-des-Ormeaux", Population: 48899},
				{Name: "Dorval", Population: 18980},
				{Name: "Hampstead", Population: 6973},
				{Name: "Kirkland", Population: 20151},
				{Name: "Lachine", Population: 44489},
				{Name: "LaSalle", Population: 76853},
				{Name: "L'Île-Bizard–Sainte-Geneviève", Population: 18413},
				{Name: "Mercier–Hochelaga-Maisonneuve", Population: 136024},
				{Name: "Montréal-Est", Population: 3850},
				{Name: "Montréal-Nord", Population: 84234},
				{Name: "Montréal-Ouest", Population: 5050},
				{Name: "Mont-Royal", Population: 20276},
				{Name: "Outremont", Population: 23954},
				{Name: "Pierrefonds-Roxboro", Population: 69297},
				{Name: "Plateau-Mont-Royal", Population: 104000},
				{Name: "Pointe-Claire", Population: 31380},
				{Name: "Rivière-des-Prairies–Pointe-aux-Trembles", Population: 106743},
				{Name: "Rosemont–La Petite-Patrie", Population: 139590},
				{Name: "Sainte-Anne-de-Bellevue", Population: 4958},
				{Name: "Saint-Laurent", Population: 98828},
				{Name: "Saint-Léonard", Population: 78305},
				{Name: "Senneville", Population: 921},
				{Name: "Sud-Ouest", Population: 78151},
				{Name: "Verdun", Population: 69229},
				{Name: "Ville-Marie", Population: 89170},
				{Name: "Villeray–Saint-Michel–Parc-Extension", Population: 143853},
				{Name: "Westmount", Population: 20312},
			},
			AgeGroups: []Population{
				{Name: "cases_mtl_0-4", Population: 109740},
				{Name: "cases_mtl_5-9", Population: 104385},
				{Name: "cases_mtl_10-19", Population: 188185},
				{Name: "cases_mtl_20-29", Population: 293225},
				{Name: "cases_mtl_30-39", Population: 299675},
				{Name: "cases_mtl_40-49", Population: 254475},
				{Name: "cases_mtl_50-59", Population: 258875},
				{Name: "cases_mtl_60-69", Population: 205005},
				{Name: "cases_mtl_70-79", Population: 129680},
				{Name: "cases_mtl_80+", Population: 98805},
			},
			MTL: 2078464,
			QC:  8591866,
		},
		Poll:   PollConfig{IntervalStr: "15m", MaxAttempts: 96},
		Lock:   LockConfig{TTLStr: "2h"},
		Server: ServerConfig{Addr: ":8050"},
	}
}
