package siem

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// payloadSchema describes the body accepted by POST /api/v1/logs.
// Severity values are checked separately so the rejection can carry the
// service's own message.
const payloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["severity", "alert"],
  "properties": {
    "severity": {"type": "string"},
    "source":   {"type": "string"},
    "alert":    {"type": "object"},
    "analysis": {"type": ["object", "null"]}
  }
}`

type validator struct {
	schema *gojsonschema.Schema
}

func newValidator() (*validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	if err != nil {
		return nil, err
	}
	return &validator{schema: schema}, nil
}

// validate returns the schema violations for body, or an error if body is
// not JSON at all.
func (v *validator) validate(body []byte) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, strings.TrimPrefix(e.String(), "(root): "))
	}
	return problems, nil
}
