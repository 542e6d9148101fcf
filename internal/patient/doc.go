// Package patient defines the patient record model, the read-only Repository
// port the monitor looks baselines up through, and the seed file format used
// to populate the repository implementations.
package patient
