package viz

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

const vegaLiteSchemaURL = "https://vega.github.io/schema/vega-lite/v5.json"

var (
	allowedMarks = []string{
		"arc", "area", "bar", "boxplot", "circle", "line", "point",
		"rect", "rule", "square", "text", "tick", "trail",
	}
	allowedChannels = []string{
		"x", "y", "x2", "y2", "xOffset", "yOffset", "theta", "radius",
		"color", "fill", "stroke", "opacity", "size", "shape",
		"text", "tooltip", "detail", "order", "row", "column", "facet",
	}
	allowedTopLevel = []string{
		"$schema", "title", "description", "mark", "encoding", "transform",
		"width", "height", "autosize", "config", "data",
	}
)

// AllowedMarks returns the mark types a chart spec may use.
func AllowedMarks() []string { return slices.Clone(allowedMarks) }

// AllowedChannels returns the encoding channels a chart spec may use.
func AllowedChannels() []string { return slices.Clone(allowedChannels) }

func chartSchema() map[string]any {
	markEnum := map[string]any{"type": "string", "enum": allowedMarks}
	return map[string]any{
		"type":     "object",
		"required": []string{"mark", "encoding"},
		"propertyNames": map[string]any{
			"enum": allowedTopLevel,
		},
		"properties": map[string]any{
			"$schema":     map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"width":       map[string]any{"type": "number"},
			"height":      map[string]any{"type": "number"},
			"mark": map[string]any{
				"oneOf": []any{
					markEnum,
					map[string]any{
						"type":       "object",
						"required":   []string{"type"},
						"properties": map[string]any{"type": markEnum},
					},
				},
			},
			"encoding": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"propertyNames":        map[string]any{"enum": allowedChannels},
				"additionalProperties": map[string]any{"type": []string{"object", "array"}},
			},
			"transform": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"data": map[string]any{
				"type": "object",
				"not":  map[string]any{"required": []string{"url"}},
			},
		},
	}
}

// VegaLite renders LLM-authored Vega-Lite specs. The spec is validated
// against an allow-list of marks, channels and properties, every encoded
// field must be a result column, and the result rows are bound as inline
// data.
type VegaLite struct {
	schema *jsonschema.Resolved
}

func NewVegaLite() (*VegaLite, error) {
	raw, err := json.Marshal(chartSchema())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode chart schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to decode chart schema")
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve chart schema")
	}
	return &VegaLite{schema: resolved}, nil
}

func (v *VegaLite) Render(ctx context.Context, script string, rs *model.ResultSet) (*model.Figure, error) {
	if rs.Empty() {
		return nil, goerr.New("no rows to visualize")
	}

	var spec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(script)), &spec); err != nil {
		return nil, goerr.Wrap(err, "chart spec is not valid JSON")
	}
	if err := v.schema.Validate(spec); err != nil {
		return nil, goerr.Wrap(err, "chart spec is not allowed")
	}

	columns := rs.ColumnNames()
	known := append(slices.Clone(columns), derivedFields(spec)...)
	for _, field := range encodedFields(spec["encoding"]) {
		if !slices.Contains(known, field) {
			return nil, goerr.New("chart encodes an unknown field",
				goerr.V("field", field), goerr.V("columns", columns))
		}
	}

	spec["$schema"] = vegaLiteSchemaURL
	spec["data"] = map[string]any{"values": rs.Records()}

	body, err := json.Marshal(spec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode chart")
	}

	title, _ := spec["title"].(string)
	logging.From(ctx).Debug("chart rendered", "title", title, "rows", rs.NumRows())
	return &model.Figure{Title: title, Spec: body}, nil
}

// encodedFields collects every "field" referenced by the encoding block,
// including tooltip arrays.
func encodedFields(encoding any) []string {
	var fields []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			if f, ok := x["field"].(string); ok {
				fields = append(fields, f)
			}
			for k, child := range x {
				if k != "field" {
					walk(child)
				}
			}
		case []any:
			for _, child := range x {
				walk(child)
			}
		}
	}
	walk(encoding)
	return fields
}

// derivedFields returns the names introduced by transforms ("as").
func derivedFields(spec map[string]any) []string {
	transforms, _ := spec["transform"].([]any)

	var names []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			for k, child := range x {
				if k == "as" {
					switch as := child.(type) {
					case string:
						names = append(names, as)
					case []any:
						for _, n := range as {
							if s, ok := n.(string); ok {
								names = append(names, s)
							}
						}
					}
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range x {
				walk(child)
			}
		}
	}
	walk(transforms)
	return names
}
