package model

import "encoding/json"

// Figure is a rendered chart: a Vega-Lite document with the result rows
// already bound. Error is set on placeholder figures.
type Figure struct {
	Title string          `json:"title"`
	Spec  json.RawMessage `json:"spec"`
	Error string          `json:"error,omitempty"`
}

// PlaceholderFigure is returned when a chart could not be rendered.
func PlaceholderFigure(err error) *Figure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	title := "Error generating visualization: " + msg
	spec, _ := json.Marshal(map[string]any{
		"$schema": "https://vega.github.io/schema/vega-lite/v5.json",
		"title":   title,
		"data":    map[string]any{"values": []map[string]any{{"x": 0, "y": 0}, {"x": 1, "y": 1}}},
		"mark":    "point",
		"encoding": map[string]any{
			"x": map[string]any{"field": "x", "type": "quantitative"},
			"y": map[string]any{"field": "y", "type": "quantitative"},
		},
	})
	return &Figure{Title: title, Spec: spec, Error: msg}
}

func (f *Figure) IsPlaceholder() bool {
	return f != nil && f.Error != ""
}
