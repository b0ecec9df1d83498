package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/usecase/query"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type askParams struct {
	Question  string `json:"question" jsonschema:"Natural language question about the database"`
	Visualize bool   `json:"visualize,omitempty" jsonschema:"Also return a Vega-Lite chart when the result is chartable"`
	Followups bool   `json:"followups,omitempty" jsonschema:"Also suggest follow-up questions"`
}

type analyzeParams struct {
	Question string `json:"question" jsonschema:"Natural language question about the database"`
}

type trainParams struct {
	Question      string `json:"question,omitempty" jsonschema:"Question answered by sql. Requires sql."`
	SQL           string `json:"sql,omitempty" jsonschema:"SQL answering question"`
	DDL           string `json:"ddl,omitempty" jsonschema:"Table definition to remember"`
	Documentation string `json:"documentation,omitempty" jsonschema:"Business documentation to remember"`
}

type removeParams struct {
	Ref string `json:"ref" jsonschema:"Memory reference as returned by memory_list, e.g. <id>-q"`
}

type historyParams struct {
	SuccessOnly bool `json:"success_only,omitempty" jsonschema:"Only successful attempts"`
	ErrorsOnly  bool `json:"errors_only,omitempty" jsonschema:"Only failed attempts"`
	Limit       int  `json:"limit,omitempty" jsonschema:"Maximum number of attempts, newest first (default 20)"`
}

type starterParams struct {
	N int `json:"n,omitempty" jsonschema:"Number of questions (default 5)"`
}

type emptyParams struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question by generating and running SQL. Failed queries are repaired automatically.",
	}, s.ask)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze",
		Description: "Answer a question and explain the result with suggested follow-up questions.",
	}, s.analyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "train",
		Description: "Remember a question/SQL pair, a table definition or documentation for future questions.",
	}, s.train)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_list",
		Description: "List everything stored in retrieval memory.",
	}, s.memoryList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "memory_remove",
		Description: "Remove one entry from retrieval memory.",
	}, s.memoryRemove)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history",
		Description: "List recorded query attempts as JSON lines, newest first.",
	}, s.history)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "history_analyze",
		Description: "Summarize error rate, retry success rate and the most common error types.",
	}, s.historyAnalyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "starter_questions",
		Description: "Suggest questions a new user could ask about the database.",
	}, s.starterQuestions)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return textResult(string(raw)), nil, nil
}

// errorResult reports a failure to the client as tool output so that the
// calling model can react to it.
func errorResult(ctx context.Context, tool string, err error) (*mcp.CallToolResult, any, error) {
	logging.From(ctx).Warn("MCP tool failed", "tool", tool, "error", err)
	res := textResult(err.Error())
	res.IsError = true
	return res, nil, nil
}

func (s *Server) ask(ctx context.Context, req *mcp.CallToolRequest, params *askParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Question) == "" {
		return errorResult(ctx, "ask", goerr.New("question is required"))
	}

	opts := []query.QueryOption{}
	if !params.Visualize {
		opts = append(opts, query.WithoutVisualization())
	}
	if params.Followups {
		opts = append(opts, query.WithFollowups())
	}

	res := s.engine.SmartQuery(ctx, params.Question, opts...)
	out, _, err := jsonResult(res.Report(s.maxRows))
	if err != nil {
		return nil, nil, err
	}
	out.IsError = !res.Success
	return out, nil, nil
}

func (s *Server) analyze(ctx context.Context, req *mcp.CallToolRequest, params *analyzeParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Question) == "" {
		return errorResult(ctx, "analyze", goerr.New("question is required"))
	}

	res := s.engine.AnalyzeData(ctx, params.Question, query.WithoutVisualization())
	out, _, err := jsonResult(res.Report(s.maxRows))
	if err != nil {
		return nil, nil, err
	}
	out.IsError = !res.Success
	return out, nil, nil
}

func (s *Server) train(ctx context.Context, req *mcp.CallToolRequest, params *trainParams) (*mcp.CallToolResult, any, error) {
	store := s.engine.Memory()
	var refs []string

	if params.Question != "" || params.SQL != "" {
		ref, err := store.AddQuestionSQL(ctx, params.Question, params.SQL)
		if err != nil {
			return errorResult(ctx, "train", err)
		}
		refs = append(refs, ref)
	}
	if params.DDL != "" {
		ref, err := store.AddSchema(ctx, params.DDL)
		if err != nil {
			return errorResult(ctx, "train", err)
		}
		refs = append(refs, ref)
	}
	if params.Documentation != "" {
		ref, err := store.AddDocumentation(ctx, params.Documentation)
		if err != nil {
			return errorResult(ctx, "train", err)
		}
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return errorResult(ctx, "train", goerr.New("one of question/sql, ddl or documentation is required"))
	}
	return textResult(fmt.Sprintf("Stored %d entries:\n%s", len(refs), strings.Join(refs, "\n"))), nil, nil
}

type memoryItem struct {
	Ref  string `json:"ref"`
	Kind string `json:"kind"`
	Text string `json:"text"`
	SQL  string `json:"sql,omitempty"`
}

func (s *Server) memoryList(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	entries, err := s.engine.Memory().List(ctx)
	if err != nil {
		return errorResult(ctx, "memory_list", err)
	}

	items := make([]memoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, memoryItem{Ref: e.Ref(), Kind: string(e.Kind), Text: e.Text, SQL: e.SQL})
	}
	return jsonResult(items)
}

func (s *Server) memoryRemove(ctx context.Context, req *mcp.CallToolRequest, params *removeParams) (*mcp.CallToolResult, any, error) {
	removed, err := s.engine.Memory().Remove(ctx, params.Ref)
	if err != nil {
		return errorResult(ctx, "memory_remove", err)
	}
	if !removed {
		return errorResult(ctx, "memory_remove", goerr.New("unknown memory reference", goerr.V("ref", params.Ref)))
	}
	return textResult("Removed " + params.Ref), nil, nil
}

func (s *Server) history(ctx context.Context, req *mcp.CallToolRequest, params *historyParams) (*mcp.CallToolResult, any, error) {
	filter := model.HistoryFilter{
		SuccessOnly: params.SuccessOnly,
		ErrorsOnly:  params.ErrorsOnly,
		Limit:       params.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var buf bytes.Buffer
	n, err := s.engine.Recorder().WriteJSONL(ctx, &buf, filter)
	if err != nil {
		return errorResult(ctx, "history", err)
	}
	if n == 0 {
		return textResult("No recorded attempts."), nil, nil
	}
	return textResult(buf.String()), nil, nil
}

func (s *Server) historyAnalyze(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	analysis, err := s.engine.Recorder().AnalyzeErrorPatterns(ctx)
	if err != nil {
		return errorResult(ctx, "history_analyze", err)
	}
	return jsonResult(analysis)
}

func (s *Server) starterQuestions(ctx context.Context, req *mcp.CallToolRequest, params *starterParams) (*mcp.CallToolResult, any, error) {
	n := params.N
	if n <= 0 {
		n = defaultStarters
	}
	questions, err := s.engine.GenerateStarterQuestions(ctx, n)
	if err != nil {
		return errorResult(ctx, "starter_questions", err)
	}
	return textResult(strings.Join(questions, "\n")), nil, nil
}
