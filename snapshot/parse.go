package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SyntaxError reports a JSON syntax failure with the position a human needs
// to fix the file in a text editor.
type SyntaxError struct {
	Line    int    // 1-based
	Column  int    // 1-based
	Context string // the offending line, trimmed
	Err     error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid JSON at line %d, column %d: %v", e.Line, e.Column, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// SchemaError reports field-level problems in a syntactically valid document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("scene failed validation: %s", strings.Join(e.Problems, "; "))
}

// Parse decodes and validates scene bytes.
//
// Empty input yields a blank scene: a zero-byte placeholder file behaves
// like "new file", never like "corrupt file". Syntax failures come back as
// *SyntaxError with line/column, schema failures as *SchemaError with one
// entry per problem. No repair is attempted.
func Parse(data []byte) (*Scene, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Template(""), nil
	}

	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, syntaxErrorAt(data, syn.Offset, syn)
		}
		var typ *json.UnmarshalTypeError
		if errors.As(err, &typ) {
			return nil, &SchemaError{Problems: []string{
				fmt.Sprintf("field %q: expected %s, got %s", typ.Field, typ.Type, typ.Value),
			}}
		}
		return nil, fmt.Errorf("snapshot: parse: %w", err)
	}

	if problems := validate(&s); len(problems) > 0 {
		return nil, &SchemaError{Problems: problems}
	}

	normalize(&s)
	return &s, nil
}

func validate(s *Scene) []string {
	var problems []string
	if s.Type != "" && s.Type != FileType {
		problems = append(problems, fmt.Sprintf("type: expected %q, got %q", FileType, s.Type))
	}
	if s.Version != 0 && s.Version != FileVersion {
		problems = append(problems, fmt.Sprintf("version: expected %d, got %d", FileVersion, s.Version))
	}
	seen := make(map[string]bool, len(s.Elements))
	for i, el := range s.Elements {
		if el.ID == "" {
			problems = append(problems, fmt.Sprintf("elements[%d]: missing id", i))
			continue
		}
		if el.Type == "" {
			problems = append(problems, fmt.Sprintf("elements[%d] (%s): missing type", i, el.ID))
		}
		if seen[el.ID] {
			problems = append(problems, fmt.Sprintf("elements[%d]: duplicate id %q", i, el.ID))
		}
		seen[el.ID] = true
	}
	return problems
}

// normalize fills the identifying header fields so legacy files that omit
// them round-trip as canonical scenes.
func normalize(s *Scene) {
	if s.Type == "" {
		s.Type = FileType
	}
	if s.Version == 0 {
		s.Version = FileVersion
	}
	if s.Source == "" {
		s.Source = DefaultSource
	}
	if s.Elements == nil {
		s.Elements = []Element{}
	}
	if s.Files == nil {
		s.Files = map[string]json.RawMessage{}
	}
}

func syntaxErrorAt(data []byte, offset int64, err error) *SyntaxError {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	lineStart := 0
	for i := int64(0); i < offset; i++ {
		if data[i] == '\n' {
			line++
			col = 1
			lineStart = int(i) + 1
		} else {
			col++
		}
	}
	lineEnd := lineStart
	for lineEnd < len(data) && data[lineEnd] != '\n' {
		lineEnd++
	}
	return &SyntaxError{
		Line:    line,
		Column:  col,
		Context: strings.TrimSpace(string(data[lineStart:lineEnd])),
		Err:     err,
	}
}
