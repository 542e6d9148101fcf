package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const birthDateLayout = "2006-01-02"

// seedRecord is the on-disk shape of a record. Birth dates are plain
// calendar dates rather than RFC 3339 timestamps.
type seedRecord struct {
	ID         string   `json:"id"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	BirthDate  string   `json:"birth_date"`
	Baseline   Baseline `json:"baseline"`
}

// LoadSeed decodes a JSON array of patient records.
// Temperatures may be given as JSON strings or numbers; both decode exactly.
func LoadSeed(r io.Reader) ([]*Record, error) {
	var raw []seedRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]*Record, 0, len(raw))
	for i, sr := range raw {
		if sr.ID == "" {
			return nil, fmt.Errorf("seed record %d: id is required", i)
		}
		if _, dup := seen[sr.ID]; dup {
			return nil, fmt.Errorf("seed record %d: duplicate id %q", i, sr.ID)
		}
		seen[sr.ID] = struct{}{}

		var birth time.Time
		if sr.BirthDate != "" {
			t, err := time.Parse(birthDateLayout, sr.BirthDate)
			if err != nil {
				return nil, fmt.Errorf("seed record %q: birth_date: %w", sr.ID, err)
			}
			birth = t
		}

		out = append(out, &Record{
			ID:         sr.ID,
			GivenName:  sr.GivenName,
			FamilyName: sr.FamilyName,
			BirthDate:  birth,
			Baseline:   sr.Baseline,
		})
	}
	return out, nil
}

// Seed writes every record to w, stopping at the first failure.
func Seed(ctx context.Context, w Writer, records []*Record) error {
	for _, r := range records {
		if err := w.Put(ctx, r); err != nil {
			return fmt.Errorf("seed patient %q: %w", r.ID, err)
		}
	}
	return nil
}
