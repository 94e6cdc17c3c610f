package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datapub/entitlements/internal/models"
)

type fakeDirectory struct {
	handleRoleErr   error
	handleRoleCalls []map[string]bool
	updateCalls     []map[string]bool
}

func (f *fakeDirectory) HandleRole(_ context.Context, _ string, groups map[string]bool) error {
	f.handleRoleCalls = append(f.handleRoleCalls, groups)
	return f.handleRoleErr
}

func (f *fakeDirectory) UpdateGroupsWithRetry(_ context.Context, _ string, groups map[string]bool) {
	f.updateCalls = append(f.updateCalls, groups)
}

func countAgreements(t *testing.T, svc *Service, userID uint64, licenceName string) int64 {
	t.Helper()
	var count int64
	if errCount := svc.db.Model(&models.TermsLink{}).
		Where("user_id = ? AND licence_name = ?", userID, licenceName).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count agreements: %v", errCount)
	}
	return count
}

func TestManageAgreementGrantsRole(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedLicence(t, conn, "ccod", "ccod", issued)

	directory := &fakeDirectory{}
	svc := NewService(conn, directory)

	linkID, errAgree := svc.ManageAgreement(context.Background(), userID, "ccod")
	if errAgree != nil {
		t.Fatalf("agree: %v", errAgree)
	}
	if linkID == 0 {
		t.Fatal("expected a terms link id")
	}
	if len(directory.handleRoleCalls) != 1 {
		t.Fatalf("expected 1 role call, got %d", len(directory.handleRoleCalls))
	}
	if !directory.handleRoleCalls[0]["ccod"] {
		t.Fatalf("unexpected role payload: %v", directory.handleRoleCalls[0])
	}
}

func TestManageAgreementSkipsRoleWhenFamilyHeld(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedLicence(t, conn, "ccod", "ccod", issued)
	// A stale agreement still marks the family as held.
	seedAgreement(t, conn, userID, "ccod", time.Date(2019, 11, 21, 12, 0, 0, 0, time.UTC))

	directory := &fakeDirectory{}
	svc := NewService(conn, directory)

	if _, errAgree := svc.ManageAgreement(context.Background(), userID, "ccod"); errAgree != nil {
		t.Fatalf("agree: %v", errAgree)
	}
	if len(directory.handleRoleCalls) != 0 {
		t.Fatal("re-agreement must not touch the directory")
	}
	if got := countAgreements(t, svc, userID, "ccod"); got != 2 {
		t.Fatalf("expected 2 terms links, got %d", got)
	}
}

func TestManageAgreementFreemiumStoresDirectVariant(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "res_cov", "Coverage", models.DatasetTypeFreemium, false, "")
	seedLicence(t, conn, "res_cov_direct", "res_cov", issued)

	directory := &fakeDirectory{}
	svc := NewService(conn, directory)

	if _, errAgree := svc.ManageAgreement(context.Background(), userID, "res_cov"); errAgree != nil {
		t.Fatalf("agree: %v", errAgree)
	}
	if got := countAgreements(t, svc, userID, "res_cov_direct"); got != 1 {
		t.Fatalf("expected the direct variant to be stored, got %d links", got)
	}
	if got := countAgreements(t, svc, userID, "res_cov"); got != 0 {
		t.Fatalf("the family name itself must not be stored, got %d links", got)
	}
}

func TestManageAgreementRollsBackOnDirectoryFailure(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "ccod", "UK companies", models.DatasetTypeLicenced, false, "ccod")
	seedLicence(t, conn, "ccod", "ccod", issued)

	directory := &fakeDirectory{handleRoleErr: errors.New("directory down")}
	svc := NewService(conn, directory)

	if _, errAgree := svc.ManageAgreement(context.Background(), userID, "ccod"); errAgree == nil {
		t.Fatal("expected the agreement to fail")
	}
	if got := countAgreements(t, svc, userID, "ccod"); got != 0 {
		t.Fatalf("terms link should have rolled back, found %d", got)
	}
}

func TestManageAgreementUnknownUser(t *testing.T) {
	conn := setupEntitlementDB(t)
	svc := NewService(conn, &fakeDirectory{})
	if _, errAgree := svc.ManageAgreement(context.Background(), 42, "ccod"); errAgree == nil {
		t.Fatal("expected a not found error")
	}
}

func TestManageMultiAgreementAddsAndRemoves(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "nps", "National Polygons", models.DatasetTypeRestricted, true, "")
	seedLicence(t, conn, "nps_a", "nps", issued)
	seedLicence(t, conn, "nps_b", "nps", issued)
	seedAgreement(t, conn, userID, "nps_b", time.Date(2019, 11, 21, 12, 0, 0, 0, time.UTC))

	directory := &fakeDirectory{}
	svc := NewService(conn, directory)

	groups, errMulti := svc.ManageMultiAgreement(context.Background(), userID, []TierRequest{
		{LicenceName: "nps_a", Agreed: true},
		{LicenceName: "nps_b", Agreed: false},
	})
	if errMulti != nil {
		t.Fatalf("multi agree: %v", errMulti)
	}

	if got := countAgreements(t, svc, userID, "nps_a"); got != 1 {
		t.Fatalf("nps_a should be agreed, found %d links", got)
	}
	if got := countAgreements(t, svc, userID, "nps_b"); got != 0 {
		t.Fatalf("nps_b should be withdrawn, found %d links", got)
	}

	// Both licences map onto the nps group; the withdrawal processed last wins.
	if len(directory.updateCalls) != 1 {
		t.Fatalf("expected 1 group push, got %d", len(directory.updateCalls))
	}
	if groups["nps"] != false {
		t.Fatalf("unexpected groups: %v", groups)
	}
}

func TestManageMultiAgreementFreemiumReconciles(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	seedDataset(t, conn, "res_cov", "Coverage", models.DatasetTypeFreemium, false, "")
	family := "res_cov"
	for _, name := range []string{"res_cov_direct", "res_cov_exploration"} {
		licence := models.Licence{LicenceName: name, Status: "active", Title: name,
			URL: "https://example.com/" + name, LastUpdated: issued, Created: issued, DatasetName: &family}
		if errCreate := conn.Create(&licence).Error; errCreate != nil {
			t.Fatalf("seed licence: %v", errCreate)
		}
	}
	seedAgreement(t, conn, userID, "res_cov_direct", time.Date(2019, 11, 21, 12, 0, 0, 0, time.UTC))

	directory := &fakeDirectory{}
	svc := NewService(conn, directory)

	groups, errMulti := svc.ManageMultiAgreement(context.Background(), userID, []TierRequest{
		{LicenceName: "res_cov_exploration", Agreed: true},
	})
	if errMulti != nil {
		t.Fatalf("multi agree: %v", errMulti)
	}

	// The family was already held through the direct variant, so the group
	// flag reconciles away and nothing is pushed.
	if len(groups) != 0 {
		t.Fatalf("expected an empty group diff, got %v", groups)
	}
	if len(directory.updateCalls) != 0 {
		t.Fatalf("expected no group push, got %d", len(directory.updateCalls))
	}
	if got := countAgreements(t, svc, userID, "res_cov_exploration"); got != 1 {
		t.Fatalf("the new tier should still be recorded, found %d links", got)
	}
}

func TestManageMultiAgreementUnlinkedLicence(t *testing.T) {
	conn := setupEntitlementDB(t)
	userID := seedUser(t, conn)
	issued := time.Date(2019, 9, 9, 0, 0, 0, 0, time.UTC)
	licence := models.Licence{LicenceName: "floating", Status: "active", Title: "Floating",
		URL: "https://example.com/floating", LastUpdated: issued, Created: issued}
	if errCreate := conn.Create(&licence).Error; errCreate != nil {
		t.Fatalf("seed licence: %v", errCreate)
	}

	svc := NewService(conn, &fakeDirectory{})
	if _, errMulti := svc.ManageMultiAgreement(context.Background(), userID, []TierRequest{
		{LicenceName: "floating", Agreed: true},
	}); errMulti == nil {
		t.Fatal("expected an error for a licence without a dataset")
	}
}
