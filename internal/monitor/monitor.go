package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

var tracer = otel.Tracer("github.com/linnemanlabs/vitalwatch/internal/monitor")

// ErrInvalidPatientID is returned when a check is requested without a patient ID.
var ErrInvalidPatientID = errors.New("patient id is required")

// ErrInvalidReading is returned for a reading outside the precision range a
// check accepts.
var ErrInvalidReading = errors.New("reading out of range")

// Bounds on a temperature reading's representation. Decimal arithmetic
// rescales operands to a common exponent, so both are capped.
const (
	MinTemperatureExponent = -12
	MaxTemperatureExponent = 3
	MaxTemperatureDigits   = 20
)

// ValidateTemperature reports whether reading is within the exponent and
// digit bounds CheckTemperature accepts.
func ValidateTemperature(reading decimal.Decimal) error {
	exp := reading.Exponent()
	if exp < MinTemperatureExponent || exp > MaxTemperatureExponent {
		return fmt.Errorf("%w: temperature exponent %d not in [%d, %d]", ErrInvalidReading, exp, MinTemperatureExponent, MaxTemperatureExponent)
	}
	if n := reading.NumDigits(); n > MaxTemperatureDigits {
		return fmt.Errorf("%w: temperature has %d digits, max %d", ErrInvalidReading, n, MaxTemperatureDigits)
	}
	return nil
}

// TemperatureDropLimit is how far below baseline a temperature may fall
// before it is abnormal. A drop of exactly this much is still normal.
var TemperatureDropLimit = decimal.RequireFromString("1.5")

// Sender delivers an alert message. Delivery is opaque to the monitor.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// Vital names the kind of reading checked.
type Vital string

const (
	VitalBloodPressure Vital = "blood_pressure"
	VitalTemperature   Vital = "temperature"
)

// Result is the outcome of a single check.
type Result struct {
	CheckID   string `json:"check_id"`
	PatientID string `json:"patient_id"`
	Vital     Vital  `json:"vital"`
	Abnormal  bool   `json:"abnormal"`
	Alerted   bool   `json:"alerted"`
}

// AlertMessage formats the alert text for a patient.
func AlertMessage(id string) string {
	return fmt.Sprintf("Warning, patient with id: %s, need help", id)
}

// Service runs vital checks. It holds no mutable state and is safe for
// concurrent use as long as its repository and sender are.
type Service struct {
	repo   patient.Repository
	sender Sender
	logger log.Logger
	hooks  Hooks
}

// NewService creates a monitoring service. repo and sender are required.
func NewService(repo patient.Repository, sender Sender, logger log.Logger, hooks Hooks) *Service {
	if repo == nil {
		panic(xerrors.New("patient repository is required"))
	}
	if sender == nil {
		panic(xerrors.New("alert sender is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		repo:   repo,
		sender: sender,
		logger: logger,
		hooks:  hooks,
	}
}

// CheckBloodPressure alerts when reading differs from the patient's baseline
// in either component, in either direction.
func (s *Service) CheckBloodPressure(ctx context.Context, patientID string, reading patient.BloodPressure) (*Result, error) {
	return s.check(ctx, "monitor.CheckBloodPressure", VitalBloodPressure, patientID, func(b patient.Baseline) bool {
		return !reading.Equal(b.BloodPressure)
	}, attribute.String("vitalwatch.reading", reading.String()))
}

// CheckTemperature alerts when reading is more than TemperatureDropLimit
// below the patient's baseline. Readings above baseline never alert.
// Readings failing ValidateTemperature are rejected before lookup.
func (s *Service) CheckTemperature(ctx context.Context, patientID string, reading decimal.Decimal) (*Result, error) {
	if err := ValidateTemperature(reading); err != nil {
		s.hooks.onCheck(&CheckEvent{Vital: VitalTemperature, Outcome: OutcomeError})
		return nil, err
	}
	return s.check(ctx, "monitor.CheckTemperature", VitalTemperature, patientID, func(b patient.Baseline) bool {
		return b.Temperature.Sub(reading).GreaterThan(TemperatureDropLimit)
	}, attribute.String("vitalwatch.reading", reading.String()))
}

func (s *Service) check(ctx context.Context, spanName string, vital Vital, patientID string, abnormal func(patient.Baseline) bool, attrs ...attribute.KeyValue) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		append(attrs,
			attribute.String("vitalwatch.vital", string(vital)),
			attribute.String("vitalwatch.patient.id", patientID),
		)...,
	))
	defer span.End()

	outcome := OutcomeError
	defer func() {
		s.hooks.onCheck(&CheckEvent{
			Vital:    vital,
			Outcome:  outcome,
			Duration: time.Since(start).Seconds(),
		})
	}()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if patientID == "" {
		return nil, fail(ErrInvalidPatientID)
	}

	rec, ok, err := s.repo.Lookup(ctx, patientID)
	if err != nil {
		return nil, fail(fmt.Errorf("lookup patient %q: %w", patientID, err))
	}
	if !ok {
		outcome = OutcomeNotFound
		return nil, fail(fmt.Errorf("lookup patient %q: %w", patientID, patient.ErrNotFound))
	}

	res := &Result{
		CheckID:   ulid.Make().String(),
		PatientID: rec.ID,
		Vital:     vital,
		Abnormal:  abnormal(rec.Baseline),
	}
	span.SetAttributes(
		attribute.String("vitalwatch.check.id", res.CheckID),
		attribute.Bool("vitalwatch.abnormal", res.Abnormal),
	)

	if !res.Abnormal {
		outcome = OutcomeNormal
		return res, nil
	}

	L := s.logger.With("check_id", res.CheckID, "patient_id", rec.ID, "vital", vital)
	L.Warn(ctx, "abnormal reading, sending alert")

	// sender errors go back to the caller untouched
	if err := s.sender.Send(ctx, AlertMessage(rec.ID)); err != nil {
		outcome = OutcomeAlertFailed
		L.Error(ctx, err, "alert delivery failed")
		return res, fail(err)
	}

	res.Alerted = true
	outcome = OutcomeAbnormal
	return res, nil
}
