package sqlgen

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

var (
	//go:embed prompt/generate.md
	generatePromptRaw string
	//go:embed prompt/repair.md
	repairPromptRaw string
	//go:embed prompt/repair_request.md
	repairRequestRaw string
	//go:embed prompt/summary.md
	summaryPromptRaw string
	//go:embed prompt/explain.md
	explainPromptRaw string
	//go:embed prompt/followup.md
	followupPromptRaw string
	//go:embed prompt/visualize.md
	visualizePromptRaw string
	//go:embed prompt/starter.md
	starterPromptRaw string
)

var (
	generatePromptTmpl  = template.Must(template.New("generate").Parse(generatePromptRaw))
	repairPromptTmpl    = template.Must(template.New("repair").Parse(repairPromptRaw))
	repairRequestTmpl   = template.Must(template.New("repair_request").Parse(repairRequestRaw))
	summaryPromptTmpl   = template.Must(template.New("summary").Parse(summaryPromptRaw))
	explainPromptTmpl   = template.Must(template.New("explain").Parse(explainPromptRaw))
	followupPromptTmpl  = template.Must(template.New("followup").Parse(followupPromptRaw))
	visualizePromptTmpl = template.Must(template.New("visualize").Parse(visualizePromptRaw))
	starterPromptTmpl   = template.Must(template.New("starter").Parse(starterPromptRaw))
)

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute prompt template", goerr.V("template", tmpl.Name()))
	}
	return buf.String(), nil
}

// BuildGenerationPrompt renders the generation conversation: the system
// prompt, one user/assistant turn per retrieved example and finally the
// question.
func BuildGenerationPrompt(question string, rc *model.RetrievalContext, dialect string) ([]model.Message, error) {
	if rc == nil {
		rc = &model.RetrievalContext{}
	}

	system, err := render(generatePromptTmpl, map[string]any{
		"Schemas":  rc.Schemas,
		"Docs":     rc.Docs,
		"Examples": rc.Examples,
		"Dialect":  dialect,
	})
	if err != nil {
		return nil, err
	}

	messages := []model.Message{model.SystemMessage(system)}
	for _, ex := range rc.Examples {
		messages = append(messages,
			model.UserMessage(ex.Question),
			model.AssistantMessage(normalizeResponse(ex.SQL, true)),
		)
	}
	messages = append(messages, model.UserMessage(question))
	return messages, nil
}

// BuildRepairPrompt renders the repair conversation for a statement that
// failed with errMsg.
func BuildRepairPrompt(question string, rc *model.RetrievalContext, failedSQL, errMsg string) ([]model.Message, error) {
	var schemas []string
	if rc != nil {
		schemas = rc.Schemas
	}

	system, err := render(repairPromptTmpl, map[string]any{"Schemas": schemas})
	if err != nil {
		return nil, err
	}
	request, err := render(repairRequestTmpl, map[string]any{
		"Question": question,
		"SQL":      failedSQL,
		"Error":    errMsg,
	})
	if err != nil {
		return nil, err
	}

	return []model.Message{
		model.SystemMessage(system),
		model.UserMessage(request),
	}, nil
}
