package store

import (
	"context"
	"os"
	"testing"

	"cardscan/models"
)

func openTestGorm(t *testing.T) *GormStore {
	t.Helper()
	// postgres tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("postgres tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	st, err := OpenGorm(GormConfig{DSN: os.Getenv("DB_DSN"), AutoMigrate: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGormRecordList(t *testing.T) {
	st := openTestGorm(t)
	ctx := context.Background()
	if err := Seed(ctx, st, "admin123"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	admin, err := st.UserByUsername(ctx, AdminUsername)
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	sess, err := OpenSession(ctx, st, admin.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	for _, n := range []string{"A", "B", "C", "D"} {
		if err := st.AppendRecord(ctx, sess.ID, &models.Record{FirstName: n}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := st.DeleteRecord(ctx, sess.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, err := st.ListRecords(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := names(rows); len(got) != 3 || got[0] != "A" || got[1] != "C" || got[2] != "D" {
		t.Fatalf("unexpected rows %v", got)
	}
	checkPositions(t, rows)
	if err := st.ClearRecords(ctx, sess.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestGormReplaceRelinksScans(t *testing.T) {
	st := openTestGorm(t)
	ctx := context.Background()
	if err := Seed(ctx, st, "admin123"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	admin, _ := st.UserByUsername(ctx, AdminUsername)
	sess, err := OpenSession(ctx, st, admin.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	sc := &models.Scan{SessionID: sess.ID, Source: models.SourceFile}
	if err := st.CreateScan(ctx, sc); err != nil {
		t.Fatalf("scan: %v", err)
	}
	out, err := st.ReplaceRecords(ctx, sess.ID, []models.Record{{FirstName: "Manual"}, {FirstName: "Read", ScanID: &sc.ID}})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := st.ScanByID(ctx, sess.ID, sc.ID)
	if err != nil || got.RecordID == nil || *got.RecordID != out[1].ID {
		t.Fatalf("scan link: %+v %v", got, err)
	}
	if err := st.ClearRecords(ctx, sess.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
}
