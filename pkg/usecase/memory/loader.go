package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// TrainingQuestion is a question/SQL pair in a training file.
type TrainingQuestion struct {
	Question string `yaml:"question" json:"question"`
	SQL      string `yaml:"sql" json:"sql"`
}

// TrainingSet is the content of a training file or directory.
type TrainingSet struct {
	Questions []TrainingQuestion `yaml:"questions"`
	Schemas   []string           `yaml:"schemas"`
	Docs      []string           `yaml:"docs"`
}

// Size is the number of entries in the set.
func (t *TrainingSet) Size() int {
	return len(t.Questions) + len(t.Schemas) + len(t.Docs)
}

// LoadTrainingFile parses a YAML training file.
func LoadTrainingFile(path string) (*TrainingSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read training file", goerr.V("file", path))
	}

	var set TrainingSet
	if err := yaml.Unmarshal(content, &set); err != nil {
		return nil, goerr.Wrap(err, "failed to parse training file", goerr.V("file", path))
	}
	for i, q := range set.Questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.SQL) == "" {
			return nil, goerr.New("training question requires both question and sql",
				goerr.V("file", path), goerr.V("index", i))
		}
	}
	return &set, nil
}

// LoadTrainingDir reads every .sql file in dir. A file becomes a question
// example when it carries a "-- question:" header and a schema fragment
// otherwise.
func LoadTrainingDir(dir string) (*TrainingSet, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, goerr.Wrap(err, "training directory does not exist", goerr.V("dir", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read training directory", goerr.V("dir", dir))
	}

	set := &TrainingSet{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read training file", goerr.V("file", filePath))
		}

		question, sql := parseSQLFile(string(content))
		if sql == "" {
			continue
		}
		if question != "" {
			set.Questions = append(set.Questions, TrainingQuestion{Question: question, SQL: sql})
		} else {
			set.Schemas = append(set.Schemas, sql)
		}
	}

	return set, nil
}

// parseSQLFile splits the leading comment header from the statement body.
func parseSQLFile(content string) (question, sql string) {
	var sqlLines []string
	inHeader := true

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if inHeader {
			if v, ok := cutDirective(trimmed, "question"); ok {
				question = v
				continue
			}
			if strings.HasPrefix(trimmed, "--") || trimmed == "" {
				continue
			}
			inHeader = false
		}

		sqlLines = append(sqlLines, line)
	}

	sql = strings.TrimSpace(strings.Join(sqlLines, "\n"))
	return
}

func cutDirective(line, name string) (string, bool) {
	for _, prefix := range []string{"-- " + name + ":", "--" + name + ":"} {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Train stores every entry of the set and returns the references written.
func (s *Store) Train(ctx context.Context, set *TrainingSet) ([]string, error) {
	var refs []string

	for _, q := range set.Questions {
		ref, err := s.AddQuestionSQL(ctx, q.Question, q.SQL)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	for _, ddl := range set.Schemas {
		ref, err := s.AddSchema(ctx, ddl)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	for _, doc := range set.Docs {
		ref, err := s.AddDocumentation(ctx, doc)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}

	return refs, nil
}
