// Package snapshot models the Excalidraw scene file: the element list, the
// persisted subset of appState, and embedded binary assets. The on-disk JSON
// and the wire JSON are the same format.
//
// The editor treats both elements and appState as open bags of fields, so
// every type here keeps unknown keys as pass-through raw JSON. Fields we
// never typed survive a load/save round-trip untouched.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileType and FileVersion identify the canonical scene format.
const (
	FileType    = "excalidraw"
	FileVersion = 2
)

// DefaultSource is the source URL written into scenes created server-side.
const DefaultSource = "https://excalidraw.com"

// Scene is a full drawing: elements plus view/style state plus embedded
// binary assets keyed by file id.
type Scene struct {
	Type     string                     `json:"type"`
	Version  int                        `json:"version"`
	Source   string                     `json:"source"`
	Elements []Element                  `json:"elements"`
	AppState AppState                   `json:"appState"`
	Files    map[string]json.RawMessage `json:"files"`
}

// Element is one drawing element. Only the fields the change detector and
// the validator need are typed; everything else (points, pressures,
// roundness, seeds...) rides along in extra.
type Element struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Width           float64  `json:"width"`
	Height          float64  `json:"height"`
	Angle           float64  `json:"angle"`
	StrokeColor     string   `json:"strokeColor"`
	BackgroundColor string   `json:"backgroundColor"`
	FillStyle       string   `json:"fillStyle"`
	StrokeWidth     float64  `json:"strokeWidth"`
	StrokeStyle     string   `json:"strokeStyle"`
	Roughness       float64  `json:"roughness"`
	Opacity         float64  `json:"opacity"`
	GroupIDs        []string `json:"groupIds"`
	IsDeleted       bool     `json:"isDeleted"`
	Text            string   `json:"text,omitempty"`
	Link            *string  `json:"link"`
	StartArrowhead  *string  `json:"startArrowhead,omitempty"`
	EndArrowhead    *string  `json:"endArrowhead,omitempty"`

	extra map[string]json.RawMessage
}

// elementAlias avoids recursing into the custom codec.
type elementAlias Element

var elementKnownKeys = []string{
	"id", "type", "x", "y", "width", "height", "angle",
	"strokeColor", "backgroundColor", "fillStyle", "strokeWidth",
	"strokeStyle", "roughness", "opacity", "groupIds", "isDeleted",
	"text", "link", "startArrowhead", "endArrowhead",
}

// UnmarshalJSON decodes the typed fields and stashes unknown keys in extra.
func (e *Element) UnmarshalJSON(data []byte) error {
	var alias elementAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range elementKnownKeys {
		delete(raw, k)
	}
	*e = Element(alias)
	if len(raw) > 0 {
		e.extra = raw
	}
	return nil
}

// MarshalJSON re-merges the typed fields with the pass-through extras.
func (e Element) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(elementAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Extra returns the pass-through field with the given key, or nil.
func (e *Element) Extra(key string) json.RawMessage {
	return e.extra[key]
}

// SetExtra sets a pass-through field. Used by tests and by callers that
// need to carry fields the typed struct does not know about.
func (e *Element) SetExtra(key string, value json.RawMessage) {
	if e.extra == nil {
		e.extra = map[string]json.RawMessage{}
	}
	e.extra[key] = value
}

// AppState is the persisted subset of the editor view/style state. Unknown
// fields are kept verbatim so newer editors can round-trip through us.
type AppState struct {
	ViewBackgroundColor        *string  `json:"viewBackgroundColor,omitempty"`
	GridSize                   *int     `json:"gridSize,omitempty"`
	CurrentItemStrokeColor     *string  `json:"currentItemStrokeColor,omitempty"`
	CurrentItemBackgroundColor *string  `json:"currentItemBackgroundColor,omitempty"`
	CurrentItemFillStyle       *string  `json:"currentItemFillStyle,omitempty"`
	CurrentItemStrokeWidth     *float64 `json:"currentItemStrokeWidth,omitempty"`
	CurrentItemStrokeStyle     *string  `json:"currentItemStrokeStyle,omitempty"`
	CurrentItemRoughness       *float64 `json:"currentItemRoughness,omitempty"`
	CurrentItemOpacity         *float64 `json:"currentItemOpacity,omitempty"`
	Zoom                       *Zoom    `json:"zoom,omitempty"`
	ScrollX                    *float64 `json:"scrollX,omitempty"`
	ScrollY                    *float64 `json:"scrollY,omitempty"`

	extra map[string]json.RawMessage
}

// Zoom is the editor zoom level.
type Zoom struct {
	Value float64 `json:"value"`
}

type appStateAlias AppState

var appStateKnownKeys = []string{
	"viewBackgroundColor", "gridSize", "currentItemStrokeColor",
	"currentItemBackgroundColor", "currentItemFillStyle",
	"currentItemStrokeWidth", "currentItemStrokeStyle",
	"currentItemRoughness", "currentItemOpacity", "zoom",
	"scrollX", "scrollY",
}

func (a *AppState) UnmarshalJSON(data []byte) error {
	var alias appStateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range appStateKnownKeys {
		delete(raw, k)
	}
	*a = AppState(alias)
	if len(raw) > 0 {
		a.extra = raw
	}
	return nil
}

func (a AppState) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(appStateAlias(a))
	if err != nil {
		return nil, err
	}
	if len(a.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range a.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Extra returns the pass-through appState field with the given key, or nil.
func (a *AppState) Extra(key string) json.RawMessage {
	return a.extra[key]
}

// SetExtra sets a pass-through appState field.
func (a *AppState) SetExtra(key string, value json.RawMessage) {
	if a.extra == nil {
		a.extra = map[string]json.RawMessage{}
	}
	a.extra[key] = value
}

// Template returns a blank scene, used when a load targets a path that does
// not exist yet. An absent file is a new document, not an error.
func Template(source string) *Scene {
	if source == "" {
		source = DefaultSource
	}
	return &Scene{
		Type:     FileType,
		Version:  FileVersion,
		Source:   source,
		Elements: []Element{},
		AppState: AppState{},
		Files:    map[string]json.RawMessage{},
	}
}

// Marshal renders the canonical on-disk form: two-space indent, HTML left
// unescaped, trailing newline.
func Marshal(s *Scene) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("snapshot: nil scene")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	return buf.Bytes(), nil
}
