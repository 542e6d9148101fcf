package levelrepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

func openRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "patients"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepo_PutAndLookup(t *testing.T) {
	t.Parallel()

	r := openRepo(t)
	ctx := context.Background()

	want := &patient.Record{
		ID:         "0",
		GivenName:  "David",
		FamilyName: "Jef",
		BirthDate:  time.Date(1980, 11, 26, 0, 0, 0, 0, time.UTC),
		Baseline: patient.Baseline{
			Temperature:   decimal.RequireFromString("36.65"),
			BloodPressure: patient.BloodPressure{Systolic: 120, Diastolic: 80},
		},
	}
	if err := r.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := r.Lookup(ctx, "0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.ID != want.ID || got.GivenName != want.GivenName || got.FamilyName != want.FamilyName {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
	if !got.BirthDate.Equal(want.BirthDate) {
		t.Errorf("BirthDate = %v, want %v", got.BirthDate, want.BirthDate)
	}
	if !got.Baseline.Temperature.Equal(want.Baseline.Temperature) {
		t.Errorf("Temperature = %s, want %s", got.Baseline.Temperature, want.Baseline.Temperature)
	}
	if !got.Baseline.BloodPressure.Equal(want.Baseline.BloodPressure) {
		t.Errorf("BloodPressure = %v, want %v", got.Baseline.BloodPressure, want.Baseline.BloodPressure)
	}
}

func TestRepo_LookupMissing(t *testing.T) {
	t.Parallel()

	r := openRepo(t)
	got, ok, err := r.Lookup(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("Lookup = (%v, %v), want (nil, false)", got, ok)
	}
}

func TestRepo_PutOverwrites(t *testing.T) {
	t.Parallel()

	r := openRepo(t)
	ctx := context.Background()

	_ = r.Put(ctx, &patient.Record{ID: "7", Baseline: patient.Baseline{BloodPressure: patient.BloodPressure{Systolic: 120, Diastolic: 80}}})
	_ = r.Put(ctx, &patient.Record{ID: "7", Baseline: patient.Baseline{BloodPressure: patient.BloodPressure{Systolic: 110, Diastolic: 70}}})

	got, _, err := r.Lookup(ctx, "7")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Baseline.BloodPressure.Systolic != 110 {
		t.Errorf("Systolic = %d, want 110", got.Baseline.BloodPressure.Systolic)
	}
}

func TestRepo_PutRejectsEmptyID(t *testing.T) {
	t.Parallel()

	if err := openRepo(t).Put(context.Background(), &patient.Record{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}
