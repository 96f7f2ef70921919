package structured

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromArrayRoundTrip(t *testing.T) {
	want := []interface{}{"a", float64(2), true}
	v := FromArray(want)

	got, ok := v.AsArray()
	if !ok {
		t.Fatalf("AsArray: not an array")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("array round-trip mismatch (-want +got):\n%s", diff)
	}
	if _, ok := v.AsObject(); ok {
		t.Fatalf("AsObject: expected false for an array value")
	}
}

func TestFromObjectRoundTrip(t *testing.T) {
	want := map[string]interface{}{"name": "World", "count": float64(3)}
	v := FromObject(want)

	got, ok := v.AsObject()
	if !ok {
		t.Fatalf("AsObject: not an object")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("object round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromTextIsNotComplex(t *testing.T) {
	v := FromText("plain")
	if v.IsComplex() {
		t.Fatalf("expected a text value to not be complex")
	}
	if diff := cmp.Diff("plain", v.AsText()); diff != "" {
		t.Fatalf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestFromNDJSONPreservesRecordOrder(t *testing.T) {
	want := []interface{}{
		map[string]interface{}{"id": float64(1)},
		map[string]interface{}{"id": float64(2)},
	}
	v := FromNDJSON(want)

	got, ok := v.AsNDJSON()
	if !ok {
		t.Fatalf("AsNDJSON: not an ndjson value")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ndjson round-trip mismatch (-want +got):\n%s", diff)
	}
}
