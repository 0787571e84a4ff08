// Package parser turns raw alert log lines into classified Wazuh alerts.
package parser

import (
	"strings"

	"cybervision-siem/internal/models"
)

// Verdict is the outcome of classifying one line.
type Verdict int

const (
	// VerdictQualified means the line produced a high or critical alert.
	VerdictQualified Verdict = iota
	// VerdictMalformed means the line was not a usable JSON object.
	VerdictMalformed
	// VerdictBelowThreshold means the alert level is under the high threshold.
	VerdictBelowThreshold
)

// String returns the verdict name used in logs and metrics labels.
func (v Verdict) String() string {
	switch v {
	case VerdictQualified:
		return "qualified"
	case VerdictMalformed:
		return "malformed"
	case VerdictBelowThreshold:
		return "below_threshold"
	default:
		return "unknown"
	}
}

// Classifier maps alert rule levels onto severity tiers.
// Thresholds are expected to satisfy critical >= high; config validation enforces it.
type Classifier struct {
	high     int
	critical int
}

// NewClassifier creates a classifier with the given level thresholds.
func NewClassifier(high, critical int) *Classifier {
	return &Classifier{high: high, critical: critical}
}

// Thresholds returns the high and critical thresholds.
func (c *Classifier) Thresholds() (high, critical int) {
	return c.high, c.critical
}

// Parse decodes one line into a raw alert. Blank lines, invalid JSON,
// non-object values and empty objects yield false.
func (c *Classifier) Parse(line string) (*models.RawAlert, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	alert, err := models.NewRawAlert([]byte(trimmed))
	if err != nil {
		return nil, false
	}
	if alert.Empty() {
		return nil, false
	}
	return alert, true
}

// Classify returns the severity tier for an alert, or false when the
// alert is below the high threshold.
func (c *Classifier) Classify(alert *models.RawAlert) (models.Severity, bool) {
	if alert == nil {
		return "", false
	}
	return c.ClassifyLevel(alert.Level())
}

// ClassifyLevel applies the thresholds to a bare level.
func (c *Classifier) ClassifyLevel(level int) (models.Severity, bool) {
	switch {
	case level >= c.critical:
		return models.SeverityCritical, true
	case level >= c.high:
		return models.SeverityHigh, true
	default:
		return "", false
	}
}

// ClassifyLine parses and classifies a line in one step. The returned alert
// is non-nil only for VerdictQualified.
func (c *Classifier) ClassifyLine(line string) (*models.ClassifiedAlert, Verdict) {
	alert, ok := c.Parse(line)
	if !ok {
		return nil, VerdictMalformed
	}

	severity, ok := c.Classify(alert)
	if !ok {
		return nil, VerdictBelowThreshold
	}

	return &models.ClassifiedAlert{Alert: alert, Severity: severity}, VerdictQualified
}
