// Package structured implements the structured-value wrapper used by
// pipeline stages (§3.4): a payload carrying both a textual projection and a
// typed (object/array/NDJSON) projection, so downstream consumers read
// either side without re-parsing.
package structured

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the typed projection carried alongside asText.
type Kind string

const (
	KindText   Kind = "text"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindNDJSON Kind = "ndjson"
)

// Value is a structured value: a textual projection plus a typed payload.
type Value struct {
	kind   Kind
	text   string
	object map[string]interface{}
	array  []interface{}
	ndjson []interface{} // one decoded record per NDJSON line
}

// FromText wraps a plain string; attempts to also populate a typed
// projection by best-effort JSON decode (text always remains authoritative
// for .asText()).
func FromText(s string) Value {
	v := Value{kind: KindText, text: s}
	var probe interface{}
	if err := json.Unmarshal([]byte(s), &probe); err == nil {
		switch t := probe.(type) {
		case map[string]interface{}:
			v.object = t
		case []interface{}:
			v.array = t
		}
	}
	return v
}

// FromObject wraps a decoded JSON object.
func FromObject(m map[string]interface{}) Value {
	text, _ := json.Marshal(m)
	return Value{kind: KindObject, text: string(text), object: m}
}

// FromArray wraps a decoded JSON array.
func FromArray(a []interface{}) Value {
	text, _ := json.Marshal(a)
	return Value{kind: KindArray, text: string(text), array: a}
}

// FromNDJSON wraps a sequence of already-decoded NDJSON records.
func FromNDJSON(records []interface{}) Value {
	lines := make([]string, len(records))
	for i, r := range records {
		b, _ := json.Marshal(r)
		lines[i] = string(b)
	}
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += "\n"
		}
		joined += l
	}
	return Value{kind: KindNDJSON, text: joined, ndjson: records}
}

// Kind reports the typed projection this value carries.
func (v Value) Kind() Kind { return v.kind }

// AsText returns the textual projection.
func (v Value) AsText() string { return v.text }

// AsObject returns the object projection and whether one is present.
func (v Value) AsObject() (map[string]interface{}, bool) {
	return v.object, v.object != nil
}

// AsArray returns the array projection and whether one is present.
func (v Value) AsArray() ([]interface{}, bool) {
	return v.array, v.array != nil
}

// AsNDJSON returns the decoded NDJSON records and whether any are present.
func (v Value) AsNDJSON() ([]interface{}, bool) {
	return v.ndjson, v.ndjson != nil
}

// IsComplex reports whether this value wraps an object/array/NDJSON payload
// containing unevaluated subtrees rather than a flat scalar.
func (v Value) IsComplex() bool {
	return v.kind == KindObject || v.kind == KindArray || v.kind == KindNDJSON
}

func (v Value) String() string { return fmt.Sprintf("structured.Value{kind=%s text=%q}", v.kind, v.text) }
