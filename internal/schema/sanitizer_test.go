package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

func parse(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return m
}

func TestAggressiveRewrites(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "ref collapses to stub",
			in:   `{"$ref": "#/$defs/Location", "description": "Where"}`,
			want: `{"type": "object", "description": "Where\nSee: Location"}`,
		},
		{
			name: "enum becomes description hint",
			in:   `{"type": "string", "enum": ["red", "green", "blue"]}`,
			want: `{"type": "string", "description": "Allowed: red, green, blue"}`,
		},
		{
			name: "single enum value gets no hint",
			in:   `{"type": "string", "enum": ["only"]}`,
			want: `{"type": "string"}`,
		},
		{
			name: "constraints become description hints",
			in:   `{"type": "string", "minLength": 1, "maxLength": 10, "additionalProperties": false}`,
			want: `{"type": "string", "description": "No extra properties allowed\nminLength: 1\nmaxLength: 10"}`,
		},
		{
			name: "allOf merges properties and required",
			in: `{"allOf": [
				{"properties": {"a": {"type": "string"}}, "required": ["a"]},
				{"properties": {"b": {"type": "number"}}, "required": ["b"]}
			]}`,
			want: `{"properties": {"a": {"type": "string"}, "b": {"type": "number"}}, "required": ["a", "b"]}`,
		},
		{
			name: "anyOf picks object over scalar",
			in:   `{"anyOf": [{"type": "string"}, {"type": "object", "properties": {"x": {"type": "string"}}}]}`,
			want: `{"type": "object", "properties": {"x": {"type": "string"}}, "description": "Accepts: string | object"}`,
		},
		{
			name: "oneOf picks array with items over scalar",
			in:   `{"oneOf": [{"type": "boolean"}, {"type": "array", "items": {"type": "string"}}]}`,
			want: `{"type": "array", "items": {"type": "string"}, "description": "Accepts: boolean | array"}`,
		},
		{
			name: "nullable array type drops property from required",
			in:   `{"type": "object", "properties": {"name": {"type": ["string", "null"]}}, "required": ["name"]}`,
			want: `{"type": "object", "properties": {"name": {"type": "string", "nullable": true}}}`,
		},
		{
			name: "required entries without properties are removed",
			in:   `{"type": "object", "properties": {"a": {"type": "string"}}, "required": ["a", "ghost"]}`,
			want: `{"type": "object", "properties": {"a": {"type": "string"}}, "required": ["a"]}`,
		},
		{
			name: "date-time format survives on strings",
			in:   `{"type": "string", "format": "date-time"}`,
			want: `{"type": "string", "format": "date-time"}`,
		},
		{
			name: "uri format is stripped with a hint",
			in:   `{"type": "string", "format": "uri"}`,
			want: `{"type": "string", "description": "format: uri"}`,
		},
		{
			name: "integer format is stripped",
			in:   `{"type": "integer", "format": "int64"}`,
			want: `{"type": "integer", "description": "format: int64"}`,
		},
		{
			name: "schema bookkeeping keys are deleted",
			in:   `{"$schema": "http://json-schema.org/draft-07/schema#", "$id": "x", "title": "T", "default": 3, "type": "number"}`,
			want: `{"type": "number"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeAggressive(parse(t, tt.in))
			want := parse(t, tt.want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("SanitizeAggressive mismatch\n got: %#v\nwant: %#v", got, want)
			}
		})
	}
}

func TestAggressiveIdempotent(t *testing.T) {
	in := parse(t, `{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["open", "closed"], "minLength": 1},
			"where": {"$ref": "#/$defs/Location"},
			"count": {"type": ["integer", "null"], "minimum": 0},
			"choice": {"anyOf": [{"type": "string"}, {"type": "object", "properties": {"v": {"type": "number"}}}]}
		},
		"required": ["status", "count", "ghost"],
		"additionalProperties": false,
		"$defs": {"Location": {"type": "object"}}
	}`)

	once := SanitizeAggressive(in)
	twice := SanitizeAggressive(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitizer is not idempotent\n once: %#v\ntwice: %#v", once, twice)
	}
}

func TestAggressiveRequiredSubsetOfProperties(t *testing.T) {
	in := parse(t, `{
		"type": "object",
		"properties": {"a": {"type": "string"}, "b": {"type": ["number", "null"]}},
		"required": ["a", "b", "missing"]
	}`)

	got := SanitizeAggressive(in)
	props := got["properties"].(map[string]interface{})
	req, _ := got["required"].([]interface{})
	for _, r := range req {
		name := r.(string)
		if _, ok := props[name]; !ok {
			t.Errorf("required entry %q has no matching property", name)
		}
	}
}

func TestPermissiveRewrites(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty schema becomes placeholder",
			in:   `{}`,
			want: `{"type": "object", "properties": {"reason": {"type": "string", "description": "Reason for calling this tool"}}, "required": ["reason"]}`,
		},
		{
			name: "object without properties becomes placeholder",
			in:   `{"type": "object", "properties": {}}`,
			want: `{"type": "object", "properties": {"reason": {"type": "string", "description": "Reason for calling this tool"}}, "required": ["reason"]}`,
		},
		{
			name: "constraints and enums survive",
			in:   `{"type": "object", "properties": {"color": {"type": "string", "enum": ["red", "blue"], "minLength": 3}}}`,
			want: `{"type": "object", "properties": {"color": {"type": "string", "enum": ["red", "blue"], "minLength": 3}}}`,
		},
		{
			name: "reference machinery is removed",
			in:   `{"type": "object", "properties": {"a": {"type": "string"}}, "$defs": {"X": {}}, "$schema": "draft"}`,
			want: `{"type": "object", "properties": {"a": {"type": "string"}}}`,
		},
		{
			name: "missing type is coerced from properties",
			in:   `{"properties": {"a": {"type": "string"}}}`,
			want: `{"type": "object", "properties": {"a": {"type": "string"}}}`,
		},
		{
			name: "missing type is coerced from items",
			in:   `{"items": {"type": "string"}}`,
			want: `{"type": "array", "items": {"type": "string"}}`,
		},
		{
			name: "allOf merges the same way",
			in:   `{"type": "object", "allOf": [{"properties": {"a": {"type": "string"}}, "required": ["a"]}]}`,
			want: `{"type": "object", "properties": {"a": {"type": "string"}}, "required": ["a"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePermissive(parse(t, tt.in))
			want := parse(t, tt.want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("SanitizePermissive mismatch\n got: %#v\nwant: %#v", got, want)
			}
		})
	}
}

func TestPermissiveIdempotent(t *testing.T) {
	in := parse(t, `{
		"anyOf": [{"type": "string"}, {"type": "object", "properties": {"v": {"$ref": "#/x"}}}],
		"$schema": "draft"
	}`)

	once := SanitizePermissive(in)
	twice := SanitizePermissive(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("permissive profile is not idempotent\n once: %#v\ntwice: %#v", once, twice)
	}
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	in := parse(t, `{"$ref": "#/$defs/Thing", "type": "object"}`)
	SanitizeAggressive(in)
	if _, ok := in["$ref"]; !ok {
		t.Error("input schema was mutated")
	}
}
