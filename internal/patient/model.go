package patient

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BloodPressure is a systolic/diastolic pair in mmHg.
type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// Equal reports whether both components match.
func (bp BloodPressure) Equal(other BloodPressure) bool {
	return bp.Systolic == other.Systolic && bp.Diastolic == other.Diastolic
}

func (bp BloodPressure) String() string {
	return fmt.Sprintf("%d/%d", bp.Systolic, bp.Diastolic)
}

// Baseline holds the vitals a patient is considered normal at.
type Baseline struct {
	Temperature   decimal.Decimal `json:"temperature"`
	BloodPressure BloodPressure   `json:"blood_pressure"`
}

// Record is a stored patient with their baseline vitals.
type Record struct {
	ID         string    `json:"id"`
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	BirthDate  time.Time `json:"birth_date"`
	Baseline   Baseline  `json:"baseline"`
}
