// Package excalidraw expands simplified drawing elements into Excalidraw
// scene elements, filling in every property the editor expects.
package excalidraw

import (
	"encoding/json"
	"hash/fnv"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Element is one Excalidraw element as written to the scene file.
type Element map[string]interface{}

// Scene is an .excalidraw file.
type Scene struct {
	Type     string                 `json:"type"`
	Version  int                    `json:"version"`
	Source   string                 `json:"source"`
	Elements []Element              `json:"elements"`
	AppState map[string]interface{} `json:"appState"`
	Files    map[string]interface{} `json:"files"`
}

// NewScene wraps elements in a scene with a white background.
func NewScene(elements []Element) Scene {
	if elements == nil {
		elements = []Element{}
	}
	return Scene{
		Type:     "excalidraw",
		Version:  2,
		Source:   "studio",
		Elements: elements,
		AppState: map[string]interface{}{
			"viewBackgroundColor": "#ffffff",
			"gridSize":            nil,
		},
		Files: map[string]interface{}{},
	}
}

// Marshal encodes the scene as indented JSON.
func (s Scene) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Convert expands simplified elements. Shapes with a label are followed by
// a centered text element for the label.
func Convert(elements []map[string]interface{}) []Element {
	out := make([]Element, 0, len(elements))

	for _, elem := range elements {
		id := newID()
		typ := str(elem, "type", "rectangle")

		base := Element{
			"id":              id,
			"type":            typ,
			"x":               num(elem, "x", 0),
			"y":               num(elem, "y", 0),
			"strokeColor":     str(elem, "strokeColor", "#000000"),
			"backgroundColor": str(elem, "backgroundColor", "transparent"),
			"fillStyle":       str(elem, "fillStyle", "hachure"),
			"strokeWidth":     num(elem, "strokeWidth", 1),
			"roughness":       1,
			"opacity":         100,
			"seed":            seed(id),
			"version":         1,
			"isDeleted":       false,
			"groupIds":        []string{},
			"boundElements":   nil,
			"locked":          false,
		}

		switch typ {
		case "text":
			textProperties(base, elem)
		case "line", "arrow":
			lineProperties(base, elem, typ)
		default:
			base["width"] = num(elem, "width", 100)
			base["height"] = num(elem, "height", 50)
		}
		out = append(out, base)

		if label := str(elem, "label", ""); label != "" && isShape(typ) {
			out = append(out, labelElement(elem, label))
		}
	}

	return out
}

func isShape(typ string) bool {
	return typ == "rectangle" || typ == "ellipse" || typ == "diamond"
}

func textProperties(base Element, elem map[string]interface{}) {
	text := str(elem, "text", "Text")
	size := num(elem, "fontSize", 16)
	chars := float64(utf8.RuneCountInString(text))

	base["text"] = text
	base["fontSize"] = size
	base["fontFamily"] = 1
	base["textAlign"] = "left"
	base["verticalAlign"] = "top"
	base["baseline"] = size
	base["width"] = chars * size * 0.6
	base["height"] = size * 1.2
	base["containerId"] = nil
	base["originalText"] = text
}

func lineProperties(base Element, elem map[string]interface{}, typ string) {
	var points []interface{}
	if p, ok := elem["points"].([]interface{}); ok && len(p) > 0 {
		points = p
	} else {
		points = []interface{}{[]interface{}{0.0, 0.0}, []interface{}{100.0, 0.0}}
	}

	base["points"] = points
	base["lastCommittedPoint"] = points[len(points)-1]
	base["startBinding"] = nil
	base["endBinding"] = nil
	base["startArrowhead"] = nil
	if typ == "arrow" {
		base["endArrowhead"] = "arrow"
	} else {
		base["endArrowhead"] = nil
	}
}

func labelElement(elem map[string]interface{}, label string) Element {
	id := newID()
	chars := float64(utf8.RuneCountInString(label))

	return Element{
		"id":              id,
		"type":            "text",
		"x":               num(elem, "x", 0) + num(elem, "width", 100)/2 - chars*4,
		"y":               num(elem, "y", 0) + num(elem, "height", 50)/2 - 8,
		"text":            label,
		"fontSize":        14,
		"fontFamily":      1,
		"textAlign":       "center",
		"verticalAlign":   "middle",
		"strokeColor":     "#666666",
		"backgroundColor": "transparent",
		"fillStyle":       "solid",
		"strokeWidth":     1,
		"roughness":       1,
		"opacity":         100,
		"seed":            seed(id),
		"version":         1,
		"isDeleted":       false,
		"groupIds":        []string{},
		"boundElements":   nil,
		"locked":          false,
		"width":           chars * 8,
		"height":          18,
		"baseline":        14,
		"containerId":     nil,
		"originalText":    label,
	}
}

func newID() string {
	return uuid.NewString()[:8]
}

func seed(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % 1000000)
}

func str(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func num(m map[string]interface{}, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}
