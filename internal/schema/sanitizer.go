// Package schema rewrites caller-supplied JSON Schemas into the reduced
// dialect the Cloud Code backend accepts. Two profiles exist: an
// aggressive one for gemini-family models that strips everything the
// backend rejects while preserving the information as description hints,
// and a permissive one for claude-family models that only removes
// reference machinery. Both are pure: the input schema is never mutated,
// and both are idempotent.
package schema

import (
	"fmt"
	"strings"
)

// Keys removed unconditionally by the aggressive profile. format is
// handled separately because string schemas may keep enum and date-time
// formats.
var aggressiveDeleteKeys = []string{
	"enum", "additionalProperties",
	"minLength", "maxLength", "pattern",
	"minimum", "maximum", "minItems", "maxItems",
	"$schema", "$defs", "definitions", "$id", "$comment", "$ref",
	"title", "default", "examples",
	"allOf", "anyOf", "oneOf",
}

// Keys removed by the permissive profile.
var permissiveDeleteKeys = []string{
	"$ref", "$defs", "$id", "$schema", "$comment", "definitions",
}

// Constraint keys whose values are preserved as description hints before
// removal, in emission order.
var constraintHintKeys = []string{
	"minLength", "maxLength", "pattern",
	"minimum", "maximum", "minItems", "maxItems",
}

var validTypes = map[string]bool{
	"object": true, "array": true, "string": true,
	"number": true, "integer": true, "boolean": true, "null": true,
}

const maxMergeRounds = 8

// SanitizeAggressive projects a schema onto the reduced dialect for
// gemini-family models. Unsupported keywords are deleted after their
// content is folded into description hints; $ref nodes collapse to typed
// stubs; allOf merges and anyOf/oneOf flatten to their best option.
func SanitizeAggressive(schema map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(schema)
	if out == nil {
		out = map[string]interface{}{}
	}
	sanitizeAggressiveNode(out)
	return out
}

// SanitizePermissive cleans a schema for claude-family models: reference
// machinery is removed, compositions are merged the same way as the
// aggressive profile, types are coerced to valid JSON Schema types, and an
// empty top-level object is replaced by a placeholder parameter (the
// backend rejects empty parameter schemas for these models).
func SanitizePermissive(schema map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(schema)
	if out == nil {
		out = map[string]interface{}{}
	}
	sanitizePermissiveNode(out)
	if isEmptyObjectSchema(out) {
		return placeholderSchema()
	}
	return out
}

func sanitizeAggressiveNode(node map[string]interface{}) {
	if replaceRef(node) {
		return
	}
	emitConstraintHints(node)
	mergeAllOf(node)
	flattenUnions(node)
	flattenArrayType(node)
	for _, k := range aggressiveDeleteKeys {
		delete(node, k)
	}
	stripFormat(node)

	newlyNullable := map[string]bool{}
	if props, ok := node["properties"].(map[string]interface{}); ok {
		for name, raw := range props {
			child, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if typeListHasNull(child["type"]) {
				newlyNullable[name] = true
			}
			sanitizeAggressiveNode(child)
		}
	}
	recurseItems(node, sanitizeAggressiveNode)
	validateRequired(node, newlyNullable)
}

func sanitizePermissiveNode(node map[string]interface{}) {
	mergeAllOf(node)
	flattenUnions(node)
	for _, k := range permissiveDeleteKeys {
		delete(node, k)
	}
	coerceType(node)

	if props, ok := node["properties"].(map[string]interface{}); ok {
		for _, raw := range props {
			if child, ok := raw.(map[string]interface{}); ok {
				sanitizePermissiveNode(child)
			}
		}
	}
	recurseItems(node, sanitizePermissiveNode)
	if ap, ok := node["additionalProperties"].(map[string]interface{}); ok {
		sanitizePermissiveNode(ap)
	}
	validateRequired(node, nil)
}

// replaceRef collapses a $ref node into a typed stub whose description
// names the referenced definition. Returns true when the node was a ref.
func replaceRef(node map[string]interface{}) bool {
	ref, ok := node["$ref"].(string)
	if !ok {
		return false
	}
	seg := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 && i+1 < len(ref) {
		seg = ref[i+1:]
	}
	desc, _ := node["description"].(string)
	hint := "See: " + seg
	if desc != "" {
		hint = desc + "\n" + hint
	}
	for k := range node {
		delete(node, k)
	}
	node["type"] = "object"
	node["description"] = hint
	return true
}

// emitConstraintHints folds keywords about to be stripped into the
// description: enum values (2 to 10 of them), the closed-properties
// marker, numeric and string constraints, and formats the backend
// rejects.
func emitConstraintHints(node map[string]interface{}) {
	var hints []string

	if enumVals, ok := node["enum"].([]interface{}); ok {
		if n := len(enumVals); n >= 2 && n <= 10 {
			parts := make([]string, 0, n)
			for _, v := range enumVals {
				parts = append(parts, hintValue(v))
			}
			hints = append(hints, "Allowed: "+strings.Join(parts, ", "))
		}
	}
	if ap, ok := node["additionalProperties"].(bool); ok && !ap {
		hints = append(hints, "No extra properties allowed")
	}
	for _, k := range constraintHintKeys {
		if v, ok := node[k]; ok {
			hints = append(hints, fmt.Sprintf("%s: %s", k, hintValue(v)))
		}
	}
	if f, ok := node["format"].(string); ok && !formatAllowed(node, f) {
		hints = append(hints, "format: "+f)
	}

	for _, h := range hints {
		appendDescription(node, h)
	}
}

// mergeAllOf folds allOf siblings into the parent: properties union with
// later siblings overriding earlier ones, required set-union, first
// occurrence wins for other keys, and the parent's own keys always take
// precedence.
func mergeAllOf(node map[string]interface{}) {
	for round := 0; round < maxMergeRounds; round++ {
		raw, ok := node["allOf"].([]interface{})
		if !ok {
			delete(node, "allOf")
			return
		}
		delete(node, "allOf")

		mergedProps := map[string]interface{}{}
		var mergedReq []string
		merged := map[string]interface{}{}
		for _, s := range raw {
			sib, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range sib {
				switch k {
				case "properties":
					if pm, ok := v.(map[string]interface{}); ok {
						for pk, pv := range pm {
							mergedProps[pk] = pv
						}
					}
				case "required":
					mergedReq = unionStrings(mergedReq, toStringList(v))
				default:
					if _, exists := merged[k]; !exists {
						merged[k] = v
					}
				}
			}
		}

		if len(mergedProps) > 0 {
			parentProps, ok := node["properties"].(map[string]interface{})
			if !ok {
				parentProps = map[string]interface{}{}
			}
			for pk, pv := range mergedProps {
				if _, exists := parentProps[pk]; !exists {
					parentProps[pk] = pv
				}
			}
			node["properties"] = parentProps
		}
		if len(mergedReq) > 0 {
			node["required"] = toInterfaceList(unionStrings(toStringList(node["required"]), mergedReq))
		}
		for k, v := range merged {
			if _, exists := node[k]; !exists {
				node[k] = v
			}
		}
		if _, again := node["allOf"]; !again {
			return
		}
	}
	delete(node, "allOf")
}

// flattenUnions replaces anyOf/oneOf with the highest-scoring option:
// object with properties beats array with items beats any typed non-null
// schema. When the options span several non-null types, an Accepts hint
// records what was collapsed.
func flattenUnions(node map[string]interface{}) {
	for round := 0; round < maxMergeRounds; round++ {
		key := ""
		if _, ok := node["anyOf"]; ok {
			key = "anyOf"
		} else if _, ok := node["oneOf"]; ok {
			key = "oneOf"
		} else {
			return
		}
		options, ok := node[key].([]interface{})
		delete(node, key)
		if !ok || len(options) == 0 {
			continue
		}

		var best map[string]interface{}
		bestScore := -1
		var seenTypes []string
		for _, o := range options {
			om, ok := o.(map[string]interface{})
			if !ok {
				continue
			}
			if s := unionScore(om); s > bestScore {
				bestScore = s
				best = om
			}
			if t := effectiveType(om); t != "" && t != "null" && !containsString(seenTypes, t) {
				seenTypes = append(seenTypes, t)
			}
		}
		if best == nil {
			continue
		}
		for k, v := range best {
			if _, exists := node[k]; !exists {
				node[k] = v
			}
		}
		if len(seenTypes) >= 2 {
			appendDescription(node, "Accepts: "+strings.Join(seenTypes, " | "))
		}
	}
}

func unionScore(option map[string]interface{}) int {
	if props, ok := option["properties"].(map[string]interface{}); ok && len(props) > 0 {
		return 3
	}
	if _, ok := option["items"]; ok {
		return 2
	}
	if t := effectiveType(option); t != "" && t != "null" {
		return 1
	}
	return 0
}

// flattenArrayType reduces a type list to its first non-null entry and
// marks the schema nullable when null was listed.
func flattenArrayType(node map[string]interface{}) {
	list, ok := node["type"].([]interface{})
	if !ok {
		return
	}
	first := ""
	hadNull := false
	for _, t := range list {
		s, ok := t.(string)
		if !ok {
			continue
		}
		if s == "null" {
			hadNull = true
			continue
		}
		if first == "" {
			first = s
		}
	}
	if first == "" {
		first = "object"
	}
	node["type"] = first
	if hadNull {
		node["nullable"] = true
	}
}

// stripFormat drops format unless the schema is a string with an enum or
// date-time format, the only combinations the backend accepts.
func stripFormat(node map[string]interface{}) {
	f, ok := node["format"].(string)
	if !ok {
		delete(node, "format")
		return
	}
	if !formatAllowed(node, f) {
		delete(node, "format")
	}
}

func formatAllowed(node map[string]interface{}, format string) bool {
	return effectiveType(node) == "string" && (format == "enum" || format == "date-time")
}

// coerceType forces a valid JSON Schema type, defaulting by structure:
// object when properties exist, array when items exist, object otherwise.
func coerceType(node map[string]interface{}) {
	switch t := node["type"].(type) {
	case string:
		if validTypes[t] {
			return
		}
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok && validTypes[s] && s != "null" {
				node["type"] = s
				return
			}
		}
	}
	if props, ok := node["properties"].(map[string]interface{}); ok && len(props) > 0 {
		node["type"] = "object"
		return
	}
	if _, ok := node["items"]; ok {
		node["type"] = "array"
		return
	}
	node["type"] = "object"
}

func recurseItems(node map[string]interface{}, sanitize func(map[string]interface{})) {
	switch items := node["items"].(type) {
	case map[string]interface{}:
		sanitize(items)
	case []interface{}:
		for _, it := range items {
			if m, ok := it.(map[string]interface{}); ok {
				sanitize(m)
			}
		}
	}
}

// validateRequired keeps required a subset of properties, drops entries in
// skip, dedupes, and removes the key entirely when nothing is left.
func validateRequired(node map[string]interface{}, skip map[string]bool) {
	raw, exists := node["required"]
	if !exists {
		return
	}
	props, _ := node["properties"].(map[string]interface{})
	var out []interface{}
	seen := map[string]bool{}
	for _, name := range toStringList(raw) {
		if seen[name] || skip[name] {
			continue
		}
		seen[name] = true
		if props == nil {
			continue
		}
		if _, ok := props[name]; !ok {
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		delete(node, "required")
		return
	}
	node["required"] = out
}

func isEmptyObjectSchema(node map[string]interface{}) bool {
	if t, ok := node["type"].(string); ok && t != "object" {
		return false
	}
	props, ok := node["properties"].(map[string]interface{})
	return !ok || len(props) == 0
}

func placeholderSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Reason for calling this tool",
			},
		},
		"required": []interface{}{"reason"},
	}
}

func appendDescription(node map[string]interface{}, text string) {
	if desc, ok := node["description"].(string); ok && desc != "" {
		node["description"] = desc + "\n" + text
		return
	}
	node["description"] = text
}

func effectiveType(node map[string]interface{}) string {
	switch t := node["type"].(type) {
	case string:
		return t
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func typeListHasNull(v interface{}) bool {
	list, ok := v.([]interface{})
	if !ok {
		return false
	}
	for _, t := range list {
		if s, ok := t.(string); ok && s == "null" {
			return true
		}
	}
	return false
}

func hintValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toStringList(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInterfaceList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}
