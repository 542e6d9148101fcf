// Package pgrepo provides a PostgreSQL implementation of patient.Repository.
package pgrepo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

var tracer = otel.Tracer("github.com/linnemanlabs/vitalwatch/internal/patient/pgrepo")

//go:embed schema.sql
var schema string

// Repo reads and writes patient records in PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Repo.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Repo, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Temperatures are selected as text so they reach shopspring/decimal without
// passing through a float.
const lookupQuery = `SELECT id, given_name, family_name, birth_date,
	baseline_temperature::text, baseline_systolic, baseline_diastolic
	FROM patients WHERE id = $1`

// Lookup retrieves a patient record by ID.
func (r *Repo) Lookup(ctx context.Context, id string) (*patient.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgrepo.Lookup", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rec, err := scanRecord(r.pool.QueryRow(ctx, lookupQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return rec, true, nil
}

// Put inserts or updates a patient record.
func (r *Repo) Put(ctx context.Context, rec *patient.Record) error {
	ctx, span := tracer.Start(ctx, "pgrepo.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	if rec == nil || rec.ID == "" {
		return errors.New("pgrepo: record id is required")
	}

	var birth *time.Time
	if !rec.BirthDate.IsZero() {
		birth = &rec.BirthDate
	}

	query := `INSERT INTO patients (
		id, given_name, family_name, birth_date,
		baseline_temperature, baseline_systolic, baseline_diastolic, updated_at
	) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, now())
	ON CONFLICT (id) DO UPDATE SET
		given_name           = EXCLUDED.given_name,
		family_name          = EXCLUDED.family_name,
		birth_date           = EXCLUDED.birth_date,
		baseline_temperature = EXCLUDED.baseline_temperature,
		baseline_systolic    = EXCLUDED.baseline_systolic,
		baseline_diastolic   = EXCLUDED.baseline_diastolic,
		updated_at           = now()`

	bl := rec.Baseline
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.GivenName, rec.FamilyName, birth,
		bl.Temperature.String(), bl.BloodPressure.Systolic, bl.BloodPressure.Diastolic,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert patient: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*patient.Record, error) {
	var (
		rec   patient.Record
		birth *time.Time
		temp  string
	)
	err := row.Scan(
		&rec.ID, &rec.GivenName, &rec.FamilyName, &birth,
		&temp, &rec.Baseline.BloodPressure.Systolic, &rec.Baseline.BloodPressure.Diastolic,
	)
	if err != nil {
		return nil, err
	}
	if birth != nil {
		rec.BirthDate = *birth
	}
	rec.Baseline.Temperature, err = decimal.NewFromString(temp)
	if err != nil {
		return nil, fmt.Errorf("parse baseline temperature %q: %w", temp, err)
	}
	return &rec, nil
}
