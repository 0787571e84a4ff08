package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawAlert(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"object", `{"rule":{"level":10}}`, false},
		{"empty object", `{}`, false},
		{"array", `[1,2,3]`, true},
		{"number", `5`, true},
		{"null", `null`, true},
		{"truncated", `{"rule":`, true},
		{"trailing data", `{"a":1} {"b":2}`, true},
		{"plain text", `not json at all`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := NewRawAlert([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, alert)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, alert)
		})
	}
}

func TestRawAlert_Level(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"integer", `{"rule":{"level":12}}`, 12},
		{"float truncates", `{"rule":{"level":7.9}}`, 7},
		{"numeric string", `{"rule":{"level":"10"}}`, 10},
		{"missing rule", `{"agent":{"name":"web-01"}}`, 0},
		{"missing level", `{"rule":{"id":"5710"}}`, 0},
		{"rule not an object", `{"rule":"ssh"}`, 0},
		{"level not numeric", `{"rule":{"level":"high"}}`, 0},
		{"level null", `{"rule":{"level":null}}`, 0},
		{"level bool", `{"rule":{"level":true}}`, 0},
		{"huge float clamps", `{"rule":{"level":1e20}}`, math.MaxInt},
		{"huge integer clamps", `{"rule":{"level":99999999999999999999}}`, math.MaxInt},
		{"huge string clamps", `{"rule":{"level":"1e20"}}`, math.MaxInt},
		{"huge negative clamps", `{"rule":{"level":-1e20}}`, math.MinInt},
		{"infinite string clamps", `{"rule":{"level":"Inf"}}`, math.MaxInt},
		{"nan string", `{"rule":{"level":"NaN"}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := NewRawAlert([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, alert.Level())
		})
	}
}

func TestRawAlert_Lookups(t *testing.T) {
	alert, err := NewRawAlert([]byte(`{
		"rule": {"level": 10, "id": "5712", "description": "sshd: brute force"},
		"agent": {"id": "001", "name": "web-01"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "5712", alert.RuleID())
	assert.Equal(t, "sshd: brute force", alert.Description())
	assert.Equal(t, "web-01", alert.AgentName())
	assert.False(t, alert.Empty())

	v, ok := alert.Lookup("agent", "id")
	assert.True(t, ok)
	assert.Equal(t, "001", v)

	_, ok = alert.Lookup("agent", "ip")
	assert.False(t, ok)
}

func TestRawAlert_NumericRuleID(t *testing.T) {
	alert, err := NewRawAlert([]byte(`{"rule":{"id":5710}}`))
	require.NoError(t, err)
	assert.Equal(t, "5710", alert.RuleID())
}

func TestRawAlert_MarshalPreservesOriginal(t *testing.T) {
	input := `{"rule": {"level": 15, "groups": ["sshd", "authentication_failed"]}, "full_log": "Failed password", "id": "1700000000.123"}`
	alert, err := NewRawAlert([]byte(input))
	require.NoError(t, err)

	data, err := json.Marshal(alert)
	require.NoError(t, err)

	assert.JSONEq(t, input, string(data))
	assert.NotContains(t, string(data), "\n")
}

func TestSeverity_Valid(t *testing.T) {
	assert.True(t, SeverityHigh.Valid())
	assert.True(t, SeverityCritical.Valid())
	assert.False(t, Severity("medium").Valid())
	assert.False(t, Severity("").Valid())
}

func TestNewForwardPayload(t *testing.T) {
	alert, err := NewRawAlert([]byte(`{"rule":{"level":15}}`))
	require.NoError(t, err)

	t.Run("builds wazuh payload", func(t *testing.T) {
		analysis := &Analysis{Analysis: "no key", Model: ModelLocal}
		payload, err := NewForwardPayload(&ClassifiedAlert{Alert: alert, Severity: SeverityCritical}, analysis)
		require.NoError(t, err)

		data, err := payload.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"severity": "critical",
			"source": "wazuh",
			"alert": {"rule": {"level": 15}},
			"analysis": {"analysis": "no key", "model": "local"}
		}`, string(data))
	})

	t.Run("nil analysis serializes as null", func(t *testing.T) {
		payload, err := NewForwardPayload(&ClassifiedAlert{Alert: alert, Severity: SeverityHigh}, nil)
		require.NoError(t, err)

		data, err := payload.ToJSON()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"analysis":null`)
	})

	t.Run("rejects non-qualifying severity", func(t *testing.T) {
		_, err := NewForwardPayload(&ClassifiedAlert{Alert: alert, Severity: "low"}, nil)
		assert.ErrorIs(t, err, ErrInvalidSeverity)
	})

	t.Run("rejects nil alert", func(t *testing.T) {
		_, err := NewForwardPayload(nil, nil)
		assert.Error(t, err)
	})
}

func TestAlertRecord_JSON(t *testing.T) {
	alert, err := NewRawAlert([]byte(`{"rule":{"level":9,"id":"31151"}}`))
	require.NoError(t, err)

	receivedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	record := NewAlertRecord("rec-1", ForwardPayload{
		Severity: SeverityHigh,
		Source:   SourceWazuh,
		Alert:    alert,
		Analysis: &Analysis{Analysis: "web scan", Model: "gemini-1.5-flash"},
	}, receivedAt)

	data, err := record.ToJSON()
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "rec-1", flat["id"])
	assert.Equal(t, "high", flat["severity"])
	assert.Equal(t, "wazuh", flat["source"])
	assert.Equal(t, "2024-01-15T10:30:00Z", flat["received_at"])

	decoded, err := RecordFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, decoded.Severity)
	assert.Equal(t, 9, decoded.Alert.Level())
	assert.Equal(t, "31151", decoded.Alert.RuleID())
	assert.True(t, decoded.ReceivedAt.Equal(receivedAt))
	assert.JSONEq(t, `{"analysis":"web scan","model":"gemini-1.5-flash"}`, string(decoded.Analysis))

	note, err := decoded.DecodeAnalysis()
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "gemini-1.5-flash", note.Model)
}

func TestAlertRecord_AnalysisKeptVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHas  bool
		wantJSON string
	}{
		{"absent", `{"severity":"high","alert":{}}`, false, "null"},
		{"null", `{"severity":"high","alert":{},"analysis":null}`, false, "null"},
		{"extra keys", `{"severity":"high","alert":{},"analysis":{"analysis":"x","model":"m","confidence":0.8}}`,
			true, `{"analysis":"x","model":"m","confidence":0.8}`},
		{"non-string summary", `{"severity":"high","alert":{},"analysis":{"analysis":{"tactic":"T1110"}}}`,
			true, `{"analysis":{"tactic":"T1110"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := RecordFromJSON([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHas, record.HasAnalysis())

			data, err := record.ToJSON()
			require.NoError(t, err)
			var flat map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &flat))
			assert.JSONEq(t, tt.wantJSON, string(flat["analysis"]))
		})
	}
}

func TestAlertRecord_NoAnalysis(t *testing.T) {
	record := NewAlertRecord("rec-2", ForwardPayload{Severity: SeverityCritical, Source: SourceWazuh}, time.Now())
	assert.False(t, record.HasAnalysis())

	note, err := record.DecodeAnalysis()
	require.NoError(t, err)
	assert.Nil(t, note)

	data, err := record.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"analysis":null`)
}

func TestRecordFromJSON_Invalid(t *testing.T) {
	_, err := RecordFromJSON([]byte(`{"severity":`))
	assert.Error(t, err)
}
