// Package model defines the solution-tree data types shared by the
// orchestration components: Node, Metric, Journal and StageMeta.
package model

import "encoding/json"

// Metric carries a scalar or structured comparable value produced by
// parsing a node's execution output, together with a maximize flag that
// determines ordering direction.
//
// Value holds either a float64 (scalar metric) or an opaque JSON-decoded
// map/slice (structured, multi-dataset metric). The source never imposes a
// stricter schema than "round-trip losslessly" on the structured case, so
// Value is stored as interface{} rather than a fixed struct.
type Metric struct {
	Value       interface{} `json:"value"`
	Maximize    bool        `json:"maximize"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`

	// Worst marks the WorstMetric sentinel and is serialized so the
	// sentinel survives a JSON round trip; NewWorstMetric is the only
	// constructor that sets it.
	Worst bool `json:"worst,omitempty"`
}

// NewMetric constructs a real (non-sentinel) Metric.
func NewMetric(value interface{}, maximize bool, name, description string) *Metric {
	return &Metric{Value: value, Maximize: maximize, Name: name, Description: description}
}

// NewWorstMetric returns the sentinel that compares strictly less than any
// real Metric, under both maximize directions.
func NewWorstMetric() *Metric {
	return &Metric{Worst: true}
}

// IsWorst reports whether m is the WorstMetric sentinel.
func (m *Metric) IsWorst() bool {
	return m == nil || m.Worst
}

// scalar extracts a float64 from Value, treating non-numeric or absent
// values as unavailable. Structured (per-dataset) metrics are not directly
// orderable — callers comparing mixed scalar/structured metrics get false
// here, and LessThan then reports false in both directions, leaving the
// pair unordered (unlike a worst metric, which always orders first).
func (m *Metric) scalar() (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// LessThan reports whether m orders strictly before other under m's own
// maximize direction. WorstMetric compares strictly less than any real
// metric in either direction; two WorstMetrics are not less than each
// other. A present Metric with maximize=true compares by ascending value
// (higher is better, so a lower value is "less than"); maximize=false
// compares by descending value (lower is better, so a higher value is
// "less than").
func (m *Metric) LessThan(other *Metric) bool {
	if m.IsWorst() {
		return !other.IsWorst()
	}
	if other.IsWorst() {
		return false
	}
	mv, mok := m.scalar()
	ov, ook := other.scalar()
	if !mok || !ook {
		return false
	}
	if m.Maximize {
		return mv < ov
	}
	return mv > ov
}

// Best returns whichever of a, b orders as the better metric under a's
// maximize direction (mixed-maximize comparisons are not expected to
// occur within one Journal). A nil/worst metric only wins if both are.
func Best(a, b *Metric) *Metric {
	if a.IsWorst() {
		return b
	}
	if b.IsWorst() {
		return a
	}
	if a.LessThan(b) {
		return b
	}
	return a
}
