package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBloodPressure_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b BloodPressure
		want bool
	}{
		{"identical", BloodPressure{120, 80}, BloodPressure{120, 80}, true},
		{"systolic higher", BloodPressure{130, 80}, BloodPressure{120, 80}, false},
		{"systolic lower", BloodPressure{110, 80}, BloodPressure{120, 80}, false},
		{"diastolic differs", BloodPressure{120, 81}, BloodPressure{120, 80}, false},
		{"both differ", BloodPressure{60, 120}, BloodPressure{120, 80}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	in := `[
		{"id":"0","given_name":"David","family_name":"Jef","birth_date":"1980-11-26",
		 "baseline":{"temperature":"36.65","blood_pressure":{"systolic":120,"diastolic":80}}},
		{"id":"1","given_name":"Ivan","family_name":"Petrov","birth_date":"1990-01-02",
		 "baseline":{"temperature":36.6,"blood_pressure":{"systolic":125,"diastolic":78}}}
	]`

	recs, err := LoadSeed(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}

	r := recs[0]
	if r.ID != "0" || r.GivenName != "David" || r.FamilyName != "Jef" {
		t.Errorf("identity = %+v", r)
	}
	if !r.BirthDate.Equal(time.Date(1980, 11, 26, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("BirthDate = %v", r.BirthDate)
	}
	if !r.Baseline.Temperature.Equal(decimal.RequireFromString("36.65")) {
		t.Errorf("Temperature = %s, want 36.65", r.Baseline.Temperature)
	}
	if !r.Baseline.BloodPressure.Equal(BloodPressure{120, 80}) {
		t.Errorf("BloodPressure = %v, want 120/80", r.Baseline.BloodPressure)
	}

	// numeric JSON temperatures decode without float rounding
	if !recs[1].Baseline.Temperature.Equal(decimal.RequireFromString("36.6")) {
		t.Errorf("Temperature = %s, want 36.6", recs[1].Baseline.Temperature)
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantSub string
	}{
		{"invalid json", `[{`, "decode seed"},
		{"missing id", `[{"given_name":"x"}]`, "id is required"},
		{"duplicate id", `[{"id":"a"},{"id":"a"}]`, "duplicate id"},
		{"bad birth date", `[{"id":"a","birth_date":"26/11/1980"}]`, "birth_date"},
		{"unknown field", `[{"id":"a","weight":80}]`, "decode seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadSeed(strings.NewReader(tt.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

type recordingWriter struct {
	got    []string
	failOn string
}

func (w *recordingWriter) Put(_ context.Context, r *Record) error {
	if r.ID == w.failOn {
		return errors.New("disk full")
	}
	w.got = append(w.got, r.ID)
	return nil
}

func TestSeed_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{failOn: "b"}
	err := Seed(context.Background(), w, []*Record{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), `"b"`) {
		t.Errorf("error = %q, want patient id in message", err)
	}
	if len(w.got) != 1 || w.got[0] != "a" {
		t.Errorf("written = %v, want [a]", w.got)
	}
}
