package entitlement

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/models"
)

func seedDataset(t *testing.T, conn *gorm.DB, name, title, dsType string, private bool, licenceName string) {
	t.Helper()
	record := models.Dataset{
		Name:    name,
		Title:   title,
		State:   "active",
		Type:    dsType,
		Private: private,
	}
	if licenceName != "" {
		record.LicenceName = &licenceName
	}
	if errCreate := conn.Create(&record).Error; errCreate != nil {
		t.Fatalf("seed dataset: %v", errCreate)
	}
}

func TestAccessViewFoldsSamplesAndBucketsLicenced(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)

	seedDataset(t, conn, "addresses", "Addresses", models.DatasetTypeOpen, false, "")
	seedDataset(t, conn, "nps", "National Polygons", models.DatasetTypeRestricted, true, "nps")
	seedDataset(t, conn, "nps_sample", "National Polygons Sample", models.DatasetTypeRestricted, false, "nps_sample")
	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedDataset(t, conn, "txtdata", "Transaction data", models.DatasetTypeLicenced, false, "txtdata")

	seedLicence(t, conn, "nps", "nps", issued)
	seedLicence(t, conn, "nps_sample", "nps_sample", issued)
	seedLicence(t, conn, "ccod", "ccod", issued)
	seedLicence(t, conn, "txtdata", "txtdata", issued)
	seedAgreement(t, conn, userID, "ccod", time.Date(2019, 11, 21, 12, 0, 0, 0, time.UTC))

	svc := NewService(conn, nil)
	access, errAccess := svc.AccessView(context.Background(), userID)
	if errAccess != nil {
		t.Fatalf("access view: %v", errAccess)
	}

	if len(access) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(access))
	}

	nps := access[0]
	if nps.Name != "nps" {
		t.Fatalf("expected nps first, got %s", nps.Name)
	}
	if nps.Licences["nps"].Title != "Full dataset" {
		t.Fatalf("parent licence title = %q, want Full dataset", nps.Licences["nps"].Title)
	}
	if nps.Licences["nps_sample"].Title != "Sample" {
		t.Fatalf("sample licence title = %q, want Sample", nps.Licences["nps_sample"].Title)
	}

	bucket := access[1]
	if bucket.Name != "licenced" || bucket.Title != "Free datasets" {
		t.Fatalf("unexpected bucket entry: %+v", bucket)
	}
	if bucket.ID != 0 || bucket.Type != "" {
		t.Fatalf("bucket must not carry id or type: %+v", bucket)
	}
	if bucket.Licences["ccod"].Title != "UK companies" {
		t.Fatalf("bucketed licence title = %q, want the dataset title", bucket.Licences["ccod"].Title)
	}
	if !bucket.Licences["ccod"].Agreed {
		t.Fatal("ccod should be agreed")
	}
	if bucket.Licences["txtdata"].Agreed {
		t.Fatal("txtdata should not be agreed")
	}
}

func TestAccessViewSampleWithoutParent(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	seedDataset(t, conn, "nps_sample", "Orphan Sample", models.DatasetTypeRestricted, false, "nps_sample")
	seedLicence(t, conn, "nps_sample", "nps_sample", time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC))

	svc := NewService(conn, nil)
	if _, errAccess := svc.AccessView(context.Background(), userID); errAccess == nil {
		t.Fatal("expected an error for a sample without a parent")
	}
}

func TestDatasetActivity(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)

	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedDataset(t, conn, "nps", "National Polygons", models.DatasetTypeRestricted, true, "nps")
	seedDataset(t, conn, "dad", "Dual licence data", models.DatasetTypeRestricted, false, "")
	seedLicence(t, conn, "ccod", "ccod", issued)
	seedLicence(t, conn, "nps", "nps", issued)
	seedLicence(t, conn, "dad_a", "dad", issued)
	seedLicence(t, conn, "dad_b", "dad", issued)

	agreed := time.Date(2019, 11, 21, 12, 10, 57, 70000, time.UTC)
	seedAgreement(t, conn, userID, "ccod", agreed)
	seedAgreement(t, conn, userID, "dad_b", agreed)

	datasetName := "ccod"
	downloads := []models.Activity{
		{UserID: userID, DatasetName: &datasetName, ActivityType: models.ActivityTypeDownload,
			File: "ccod_full.csv", Timestamp: time.Date(2020, 1, 5, 10, 0, 0, 0, time.UTC)},
		{UserID: userID, DatasetName: &datasetName, ActivityType: models.ActivityTypeDownload,
			File: "ccod_update.csv", Timestamp: time.Date(2020, 2, 5, 10, 0, 0, 0, time.UTC)},
		{UserID: userID, DatasetName: &datasetName, ActivityType: "view",
			File: "", Timestamp: time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	for i := range downloads {
		if errCreate := conn.Create(&downloads[i]).Error; errCreate != nil {
			t.Fatalf("seed activity: %v", errCreate)
		}
	}

	svc := NewService(conn, nil)
	summaries, errActivity := svc.DatasetActivity(context.Background(), userID)
	if errActivity != nil {
		t.Fatalf("dataset activity: %v", errActivity)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}

	byName := map[string]DatasetActivitySummary{}
	for _, summary := range summaries {
		byName[summary.Name] = summary
	}

	ccod := byName["ccod"]
	if !ccod.LicenceAgreed {
		t.Fatal("ccod should be agreed")
	}
	if ccod.LicenceAgreedDate != "2019-11-21T12:10:57.000070" {
		t.Fatalf("unexpected agreement date %q", ccod.LicenceAgreedDate)
	}
	if len(ccod.DownloadHistory) != 2 {
		t.Fatalf("expected 2 downloads, got %d", len(ccod.DownloadHistory))
	}
	if ccod.DownloadHistory[0].File != "ccod_update.csv" {
		t.Fatalf("downloads should be newest first, got %s", ccod.DownloadHistory[0].File)
	}

	nps := byName["nps"]
	if nps.LicenceAgreed || nps.LicenceAgreedDate != "" {
		t.Fatalf("nps should carry no agreement: %+v", nps)
	}

	dad := byName["dad"]
	if !dad.LicenceAgreed {
		t.Fatal("one valid licence of a multi-licence dataset should grant access")
	}
	if dad.LicenceAgreedDate != "" {
		t.Fatalf("multi-licence datasets must not report a date, got %q", dad.LicenceAgreedDate)
	}
}

func TestBuildUserDatasets(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)

	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedDataset(t, conn, "res_cov", "Coverage", models.DatasetTypeFreemium, false, "")
	seedLicence(t, conn, "ccod", "ccod", issued)

	direct := models.Licence{LicenceName: "res_cov_direct", Status: "active", Title: "Direct Use",
		URL: "https://example.com/direct", LastUpdated: issued, Created: issued}
	commercial := models.Licence{LicenceName: "res_cov_commercial", Status: "active", Title: "Commercial",
		URL: "https://example.com/commercial", LastUpdated: issued, Created: issued}
	family := "res_cov"
	direct.DatasetName = &family
	commercial.DatasetName = &family
	for _, licence := range []*models.Licence{&direct, &commercial} {
		if errCreate := conn.Create(licence).Error; errCreate != nil {
			t.Fatalf("seed licence: %v", errCreate)
		}
	}

	agreed := time.Date(2019, 11, 21, 12, 10, 57, 0, time.UTC)
	seedAgreement(t, conn, userID, "ccod", agreed)
	seedAgreement(t, conn, userID, "res_cov_commercial", agreed)
	seedAgreement(t, conn, userID, "res_cov_direct", agreed)

	datasets, errBuild := BuildUserDatasets(context.Background(), conn, userID)
	if errBuild != nil {
		t.Fatalf("build: %v", errBuild)
	}
	if len(datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(datasets))
	}

	ccod := datasets["ccod"]
	if !ccod.ValidLicence || ccod.LicenceType != models.DatasetTypeLicenced {
		t.Fatalf("unexpected ccod summary: %+v", ccod)
	}
	if ccod.DateAgreed == nil || *ccod.DateAgreed != "2019-11-21 12:10:57.000000" {
		t.Fatalf("unexpected ccod date agreed: %v", ccod.DateAgreed)
	}

	resCov := datasets["res_cov"]
	if resCov.DateAgreed != nil {
		t.Fatal("merged licences must null the agreement date")
	}
	if len(resCov.Licences) != 2 || resCov.Licences[0] != "Direct Use" || resCov.Licences[1] != "Commercial" {
		t.Fatalf("tiers should sort by precedence, got %v", resCov.Licences)
	}
}

func TestAccessViewUnknownUser(t *testing.T) {
	conn := setupEntitlementDB(t)
	svc := NewService(conn, nil)
	if _, errAccess := svc.AccessView(context.Background(), 99); errAccess == nil {
		t.Fatal("expected a not found error")
	}
}
