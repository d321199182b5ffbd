package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseEmptyIsBlankScene(t *testing.T) {
	// WHAT: empty bytes parse to a blank template, not an error.
	// WHY: a zero-byte placeholder file must behave like "new file".
	for _, input := range []string{"", "   ", "\n\n"} {
		s, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("Parse(%q): %v", input, err)
		}
		if s.Type != FileType || s.Version != FileVersion {
			t.Fatalf("Parse(%q): got type=%q version=%d", input, s.Type, s.Version)
		}
		if len(s.Elements) != 0 {
			t.Fatalf("Parse(%q): expected no elements", input)
		}
	}
}

func TestParseSyntaxErrorPosition(t *testing.T) {
	input := "{\n  \"type\": \"excalidraw\",\n  \"elements\": [}\n}"
	_, err := Parse([]byte(input))
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected *SyntaxError, got %v", err)
	}
	if syn.Line != 3 {
		t.Fatalf("line: got %d, want 3", syn.Line)
	}
	if syn.Column < 2 {
		t.Fatalf("column: got %d", syn.Column)
	}
	if !strings.Contains(syn.Context, "elements") {
		t.Fatalf("context: got %q", syn.Context)
	}
}

func TestParseSchemaProblems(t *testing.T) {
	input := `{
		"type": "excalidraw",
		"version": 2,
		"elements": [
			{"type": "rectangle"},
			{"id": "a", "type": "rectangle"},
			{"id": "a", "type": "ellipse"}
		]
	}`
	_, err := Parse([]byte(input))
	var schema *SchemaError
	if !errors.As(err, &schema) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(schema.Problems) != 2 {
		t.Fatalf("problems: got %d (%v), want 2", len(schema.Problems), schema.Problems)
	}
	if !strings.Contains(schema.Problems[0], "missing id") {
		t.Fatalf("problem[0]: got %q", schema.Problems[0])
	}
	if !strings.Contains(schema.Problems[1], "duplicate id") {
		t.Fatalf("problem[1]: got %q", schema.Problems[1])
	}
}

func TestParseWrongType(t *testing.T) {
	_, err := Parse([]byte(`{"type": "not-a-drawing", "elements": []}`))
	var schema *SchemaError
	if !errors.As(err, &schema) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
}

func TestPassThroughRoundTrip(t *testing.T) {
	// WHAT: fields we never typed survive parse + marshal unchanged.
	// WHY: the editor treats elements and appState as open bags; dropping
	// unknown keys would corrupt drawings made by newer editors.
	input := `{
		"type": "excalidraw",
		"version": 2,
		"source": "https://excalidraw.com",
		"elements": [
			{"id": "e1", "type": "freedraw", "x": 1, "y": 2, "width": 3, "height": 4,
			 "points": [[0,0],[1,1]], "pressures": [0.5, 0.7], "seed": 12345}
		],
		"appState": {"viewBackgroundColor": "#ffffff", "theme": "dark", "frameRendering": {"enabled": true}},
		"files": {}
	}`
	s, err := Parse([]byte(input))
	if err != nil {
		t.Fatal(err)
	}

	if got := s.Elements[0].Extra("points"); got == nil {
		t.Fatal("element extra 'points' dropped")
	}
	if got := s.AppState.Extra("theme"); string(got) != `"dark"` {
		t.Fatalf("appState extra 'theme': got %s", got)
	}

	out, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if string(reparsed.Elements[0].Extra("seed")) != "12345" {
		t.Fatalf("seed lost on round-trip: %s", reparsed.Elements[0].Extra("seed"))
	}
	if string(reparsed.AppState.Extra("frameRendering")) != `{"enabled":true}` {
		t.Fatalf("frameRendering lost: %s", reparsed.AppState.Extra("frameRendering"))
	}
}

func TestMarshalCanonicalForm(t *testing.T) {
	s := Template("")
	out, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(out, []byte("\n")) {
		t.Fatal("expected trailing newline")
	}
	if !bytes.Contains(out, []byte("  \"type\": \"excalidraw\"")) {
		t.Fatalf("expected two-space indent, got:\n%s", out)
	}
	// Marshal must be deterministic.
	again, _ := Marshal(s)
	if !bytes.Equal(out, again) {
		t.Fatal("marshal is not deterministic")
	}
}

func TestNormalizeLegacyHeader(t *testing.T) {
	s, err := Parse([]byte(`{"elements": [{"id": "a", "type": "rectangle"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != FileType || s.Version != FileVersion || s.Source == "" {
		t.Fatalf("header not normalized: %+v", s)
	}
}

func TestTypeMismatchIsSchemaError(t *testing.T) {
	_, err := Parse([]byte(`{"type": "excalidraw", "elements": "nope"}`))
	var schema *SchemaError
	if !errors.As(err, &schema) {
		t.Fatalf("expected *SchemaError for type mismatch, got %v", err)
	}
}

func TestElementExtraHelpers(t *testing.T) {
	var el Element
	el.SetExtra("roundness", json.RawMessage(`{"type": 3}`))
	if string(el.Extra("roundness")) != `{"type": 3}` {
		t.Fatal("SetExtra/Extra mismatch")
	}
}
