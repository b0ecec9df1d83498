package guard

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy/guard.rego
var defaultPolicy string

const policyQuery = "data.talk2sql.guard"

// Guard evaluates statements against a rego allow-list before they reach
// the database.
type Guard struct {
	query *rego.PreparedEvalQuery
}

type Option func(*config)

type config struct {
	policyDir string
}

// WithPolicyDir replaces the built-in policy with every .rego file in dir.
// The files must define package talk2sql.guard with allow and deny rules.
func WithPolicyDir(dir string) Option {
	return func(c *config) {
		c.policyDir = dir
	}
}

func New(ctx context.Context, opts ...Option) (*Guard, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	modules := []func(*rego.Rego){rego.Module("guard.rego", defaultPolicy)}
	if cfg.policyDir != "" {
		loaded, err := loadModules(cfg.policyDir)
		if err != nil {
			return nil, err
		}
		modules = loaded
	}

	options := append([]func(*rego.Rego){rego.Query(policyQuery)}, modules...)
	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare guard policy", goerr.V("dir", cfg.policyDir))
	}

	return &Guard{query: &prepared}, nil
}

func loadModules(dir string) ([]func(*rego.Rego), error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy files found", goerr.V("dir", dir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// Decision is the policy outcome for one input.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Evaluate runs the policy and returns its decision without turning a
// rejection into an error.
func (g *Guard) Evaluate(ctx context.Context, sql string) (*Decision, error) {
	input, err := policyInput(sql)
	if err != nil {
		return nil, err
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate guard policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, goerr.New("guard policy returned no result")
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("unexpected guard policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	d := &Decision{}
	d.Allow, _ = data["allow"].(bool)
	if deny, ok := data["deny"].([]any); ok {
		for _, v := range deny {
			if s, ok := v.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
	}
	sort.Strings(d.Reasons)

	// a policy that denies without saying why must still block
	if len(d.Reasons) > 0 {
		d.Allow = false
	}
	return d, nil
}

// Check returns an error wrapping model.ErrUnsafeStatement when the
// statement is not allowed.
func (g *Guard) Check(ctx context.Context, sql string) error {
	d, err := g.Evaluate(ctx, sql)
	if err != nil {
		return err
	}
	if d.Allow {
		return nil
	}

	reason := strings.Join(d.Reasons, "; ")
	if reason == "" {
		reason = "denied by policy"
	}
	logging.From(ctx).Warn("statement rejected by guard", "sql", sql, "reason", reason)
	return model.Classify(model.ErrUnsafeStatement, goerr.New(reason, goerr.V("sql", sql)))
}

func policyInput(sql string) (map[string]any, error) {
	raw, err := json.Marshal(map[string]any{
		"sql":        sql,
		"statements": nonNil(splitStatements(sql)),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode policy input")
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to decode policy input")
	}
	return input, nil
}

func nonNil(stmts []statement) []statement {
	if stmts == nil {
		return []statement{}
	}
	for i := range stmts {
		if stmts[i].Keywords == nil {
			stmts[i].Keywords = []string{}
		}
	}
	return stmts
}
