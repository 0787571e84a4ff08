// Package models defines the alert data structures shared by the pipeline and the ingestion API.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// SourceWazuh is the source tag attached to every forwarded payload.
const SourceWazuh = "wazuh"

// Provenance tags for Analysis.Model besides the configured model name.
const (
	ModelLocal    = "local"
	ModelFallback = "fallback"
)

// ErrNotAnObject is returned when an alert line decodes to something other than a JSON object.
var ErrNotAnObject = errors.New("alert is not a JSON object")

// ErrInvalidSeverity is returned when a payload is built with a non-qualifying severity.
var ErrInvalidSeverity = errors.New("severity must be high or critical")

// Severity is a qualifying alert tier.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the two forwardable tiers.
func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// String implements fmt.Stringer.
func (s Severity) String() string {
	return string(s)
}

// RawAlert is one decoded line of the Wazuh alert log.
// The original JSON is kept verbatim for pass-through; only the fields the
// classifier and the logs need are exposed.
type RawAlert struct {
	raw    json.RawMessage
	fields map[string]any
}

// NewRawAlert decodes a JSON object. Non-object documents are rejected.
func NewRawAlert(data []byte) (*RawAlert, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotAnObject
	}
	if dec.More() {
		return nil, errors.New("trailing data after alert object")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, err
	}

	return &RawAlert{raw: compact.Bytes(), fields: fields}, nil
}

// Raw returns the compacted original JSON.
func (a *RawAlert) Raw() json.RawMessage {
	return a.raw
}

// Empty reports whether the alert object has no fields.
func (a *RawAlert) Empty() bool {
	return len(a.fields) == 0
}

// Lookup walks nested objects by key.
func (a *RawAlert) Lookup(path ...string) (any, bool) {
	var current any = a.fields
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Level returns rule.level as an integer. Missing or malformed values yield 0.
func (a *RawAlert) Level() int {
	v, ok := a.Lookup("rule", "level")
	if !ok {
		return 0
	}
	return toInt(v)
}

// RuleID returns rule.id, or "" if absent.
func (a *RawAlert) RuleID() string {
	return a.lookupString("rule", "id")
}

// Description returns rule.description, or "" if absent.
func (a *RawAlert) Description() string {
	return a.lookupString("rule", "description")
}

// AgentName returns agent.name, or "" if absent.
func (a *RawAlert) AgentName() string {
	return a.lookupString("agent", "name")
}

func (a *RawAlert) lookupString(path ...string) string {
	v, ok := a.Lookup(path...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt(f)
		}
	case float64:
		return floatToInt(t)
	}
	return 0
}

func floatToInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

// MarshalJSON emits the original alert JSON unchanged.
func (a *RawAlert) MarshalJSON() ([]byte, error) {
	if a == nil || len(a.raw) == 0 {
		return []byte("null"), nil
	}
	return a.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *RawAlert) UnmarshalJSON(data []byte) error {
	parsed, err := NewRawAlert(data)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// ClassifiedAlert is a RawAlert that met one of the severity thresholds.
type ClassifiedAlert struct {
	Alert    *RawAlert
	Severity Severity
}

// Analysis is the enrichment annotation attached to a forwarded alert.
type Analysis struct {
	// Analysis is the free-text risk summary.
	Analysis string `json:"analysis"`

	// Model is the configured model name, ModelLocal or ModelFallback.
	Model string `json:"model"`
}

// ForwardPayload is the wire body POSTed to the ingestion endpoint and
// appended to the local filtered-output file.
type ForwardPayload struct {
	Severity Severity  `json:"severity"`
	Source   string    `json:"source"`
	Alert    *RawAlert `json:"alert"`
	Analysis *Analysis `json:"analysis"`
}

// NewForwardPayload builds the payload for a classified alert.
func NewForwardPayload(alert *ClassifiedAlert, analysis *Analysis) (*ForwardPayload, error) {
	if alert == nil || alert.Alert == nil {
		return nil, errors.New("classified alert is required")
	}
	if !alert.Severity.Valid() {
		return nil, ErrInvalidSeverity
	}
	return &ForwardPayload{
		Severity: alert.Severity,
		Source:   SourceWazuh,
		Alert:    alert.Alert,
		Analysis: analysis,
	}, nil
}

// ToJSON serializes the payload to JSON bytes.
func (p *ForwardPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// AlertRecord is a payload as stored by the ingestion service. Analysis is
// kept verbatim so any object a sender attaches survives storage.
type AlertRecord struct {
	ID         string          `json:"id,omitempty"`
	Severity   Severity        `json:"severity"`
	Source     string          `json:"source"`
	Alert      *RawAlert       `json:"alert"`
	Analysis   json.RawMessage `json:"analysis"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewAlertRecord stamps a payload with its ingestion time.
func NewAlertRecord(id string, payload ForwardPayload, receivedAt time.Time) *AlertRecord {
	var analysis json.RawMessage
	if payload.Analysis != nil {
		// Two string fields cannot fail to encode.
		analysis, _ = json.Marshal(payload.Analysis)
	}
	return &AlertRecord{
		ID:         id,
		Severity:   payload.Severity,
		Source:     payload.Source,
		Alert:      payload.Alert,
		Analysis:   analysis,
		ReceivedAt: receivedAt.UTC(),
	}
}

// HasAnalysis reports whether the record carries a non-null analysis value.
func (r *AlertRecord) HasAnalysis() bool {
	trimmed := bytes.TrimSpace(r.Analysis)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DecodeAnalysis reads the stored analysis as the pipeline's annotation.
// It returns nil when the record has none.
func (r *AlertRecord) DecodeAnalysis() (*Analysis, error) {
	if !r.HasAnalysis() {
		return nil, nil
	}
	var a Analysis
	if err := json.Unmarshal(r.Analysis, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ToJSON serializes the record to JSON bytes.
func (r *AlertRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RecordFromJSON deserializes an AlertRecord from JSON bytes.
func RecordFromJSON(data []byte) (*AlertRecord, error) {
	var record AlertRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
