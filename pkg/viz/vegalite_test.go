package viz_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/viz"
)

func salesResult() *model.ResultSet {
	return model.NewResultSet([]string{"region", "total"}, []string{"TEXT", "REAL"},
		[][]any{{"east", 15.0}, {"west", 20.0}})
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	renderer, err := viz.NewVegaLite()
	gt.NoError(t, err)

	fig, err := renderer.Render(ctx, `{
		"title": "Sales by region",
		"mark": {"type": "bar", "tooltip": true},
		"encoding": {
			"x": {"field": "region", "type": "nominal"},
			"y": {"field": "total", "type": "quantitative"},
			"tooltip": [{"field": "region"}, {"field": "total"}]
		}
	}`, salesResult())
	gt.NoError(t, err)
	gt.Equal(t, fig.Title, "Sales by region")
	gt.False(t, fig.IsPlaceholder())

	var spec map[string]any
	gt.NoError(t, json.Unmarshal(fig.Spec, &spec))
	gt.Equal(t, spec["$schema"], any("https://vega.github.io/schema/vega-lite/v5.json"))
	data, ok := spec["data"].(map[string]any)
	gt.True(t, ok)
	values, ok := data["values"].([]any)
	gt.True(t, ok)
	gt.A(t, values).Length(2)
}

func TestRenderTransformField(t *testing.T) {
	renderer, err := viz.NewVegaLite()
	gt.NoError(t, err)

	_, err = renderer.Render(context.Background(), `{
		"mark": "line",
		"transform": [{"calculate": "datum.total * 2", "as": "doubled"}],
		"encoding": {
			"x": {"field": "region", "type": "nominal"},
			"y": {"field": "doubled", "type": "quantitative"}
		}
	}`, salesResult())
	gt.NoError(t, err)
}

func TestRenderRejects(t *testing.T) {
	renderer, err := viz.NewVegaLite()
	gt.NoError(t, err)

	testCases := map[string]string{
		"not json":      `this is not a chart`,
		"unknown mark":  `{"mark": "geoshape", "encoding": {"x": {"field": "region"}}}`,
		"unknown field": `{"mark": "bar", "encoding": {"x": {"field": "country"}}}`,
		"bad channel":   `{"mark": "bar", "encoding": {"href": {"field": "region"}}}`,
		"remote data":   `{"mark": "bar", "data": {"url": "https://example.com/x.csv"}, "encoding": {"x": {"field": "region"}}}`,
		"extra props":   `{"mark": "bar", "encoding": {"x": {"field": "region"}}, "usermeta": {"embedOptions": {}}}`,
		"no encoding":   `{"mark": "bar"}`,
	}
	for name, script := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := renderer.Render(context.Background(), script, salesResult())
			gt.Error(t, err)
		})
	}

	t.Run("empty result", func(t *testing.T) {
		empty := model.NewResultSet([]string{"region"}, nil, nil)
		_, err := renderer.Render(context.Background(), `{"mark": "bar", "encoding": {"x": {"field": "region"}}}`, empty)
		gt.Error(t, err)
	})
}

func TestAllowLists(t *testing.T) {
	marks := viz.AllowedMarks()
	gt.A(t, marks).Longer(5)
	marks[0] = "mutated"
	gt.True(t, viz.AllowedMarks()[0] != "mutated")
	gt.A(t, viz.AllowedChannels()).Longer(5)
}
