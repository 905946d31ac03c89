package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const recordSchemaURL = "https://assetlabel.local/schemas/record.json"

const recordSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["base_url", "api_key"],
  "properties": {
    "base_url": {
      "type": "string",
      "minLength": 1,
      "format": "uri",
      "pattern": "^[Hh][Tt][Tt][Pp][Ss]?://[^/?#\\s]+"
    },
    "api_key": {
      "type": "string",
      "minLength": 1,
      "pattern": "\\S"
    }
  },
  "additionalProperties": false
}`

var fieldReasons = map[string]string{
	"base_url": "must be an absolute http(s) URL",
	"api_key":  "must not be empty",
}

var recordSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record schema: %w", err)
	}
	if err := c.AddResource(recordSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add record schema resource: %w", err)
	}
	return c.Compile(recordSchemaURL)
})

// Validate checks the record against the vault record schema. It returns
// a *ValidationError naming the first offending field.
func (r Record) Validate() error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return validateRecordJSON(raw)
}

func validateRecordJSON(raw []byte) error {
	sch, err := recordSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Field: "record", Reason: "not valid JSON"}
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	field := offendingField(ve)
	reason, ok := fieldReasons[field]
	if !ok {
		field, reason = "record", "unexpected structure"
	}
	return &ValidationError{Field: field, Reason: reason}
}

// offendingField walks to the first leaf cause and returns the top-level
// property it points at.
func offendingField(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if len(ve.InstanceLocation) == 0 {
		return ""
	}
	return ve.InstanceLocation[0]
}

// decodeRecord parses and validates a decrypted payload.
func decodeRecord(pt []byte) (Record, error) {
	var rec Record
	if err := validateRecordJSON(pt); err != nil {
		return rec, ErrCorrupt
	}
	dec := json.NewDecoder(bytes.NewReader(pt))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, ErrCorrupt
	}
	return rec, nil
}
