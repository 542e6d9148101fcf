// Package monitor compares freshly measured vitals against a patient's stored
// baseline and raises an alert through a Sender when a reading is abnormal.
// Each check is a single stateless decision: lookup, compare, optional send.
package monitor
