// Package vitalsapi exposes vital checks over HTTP.
package vitalsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/monitor"
	"github.com/linnemanlabs/vitalwatch/internal/patient"
)

// MonitorService defines the operations the API needs.
type MonitorService interface {
	CheckBloodPressure(ctx context.Context, patientID string, reading patient.BloodPressure) (*monitor.Result, error)
	CheckTemperature(ctx context.Context, patientID string, reading decimal.Decimal) (*monitor.Result, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    MonitorService
}

// New creates a new API handler.
func New(logger log.Logger, svc MonitorService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("monitor service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. Any middleware
// (authentication) is applied to the API subtree only.
func (a *API) RegisterRoutes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.Route("/api/v1/patients/{id}", func(r chi.Router) {
		r.Use(middlewares...)
		r.Post("/blood-pressure", a.handleBloodPressure)
		r.Post("/temperature", a.handleTemperature)
	})
}

type bloodPressureRequest struct {
	Systolic  *int `json:"systolic"`
	Diastolic *int `json:"diastolic"`
}

type temperatureRequest struct {
	Temperature *decimal.Decimal `json:"temperature"`
}

func (a *API) handleBloodPressure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req bloodPressureRequest
	if err := decode(r, &req); err != nil || req.Systolic == nil || req.Diastolic == nil {
		writeError(w, http.StatusBadRequest, "invalid payload: systolic and diastolic are required")
		return
	}

	reading := patient.BloodPressure{Systolic: *req.Systolic, Diastolic: *req.Diastolic}
	res, err := a.svc.CheckBloodPressure(r.Context(), id, reading)
	a.respond(w, r, id, res, err)
}

func (a *API) handleTemperature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req temperatureRequest
	if err := decode(r, &req); err != nil || req.Temperature == nil {
		writeError(w, http.StatusBadRequest, "invalid payload: temperature is required")
		return
	}
	if err := monitor.ValidateTemperature(*req.Temperature); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: temperature out of range")
		return
	}

	res, err := a.svc.CheckTemperature(r.Context(), id, *req.Temperature)
	a.respond(w, r, id, res, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, id string, res *monitor.Result, err error) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("vitalwatch.patient.id", id))

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, patient.ErrNotFound):
		writeError(w, http.StatusNotFound, "patient not found")
	case errors.Is(err, monitor.ErrInvalidPatientID):
		writeError(w, http.StatusBadRequest, "patient id is required")
	case errors.Is(err, monitor.ErrInvalidReading):
		writeError(w, http.StatusBadRequest, "invalid payload: reading out of range")
	case res != nil && res.Abnormal && !res.Alerted:
		// the reading was judged; only delivery failed
		a.logger.Error(ctx, err, "alert delivery failed", "patient_id", id, "check_id", res.CheckID)
		writeJSON(w, http.StatusBadGateway, res)
	default:
		a.logger.Error(ctx, err, "vital check failed", "patient_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
