package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/m-mizutani/talk2sql/pkg/repository"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

const (
	DefaultQuestionCollection = "talk2sql_questions"
	DefaultSchemaCollection   = "talk2sql_schema"
	DefaultDocCollection      = "talk2sql_docs"

	// scrollLimit bounds listing of a single collection
	scrollLimit = 10000
)

// payload keys
const (
	keyKind     = "kind"
	keyText     = "text"
	keyQuestion = "question"
	keySQL      = "sql"
)

// Store is the retrieval memory: three vector collections holding
// question/SQL examples, schema fragments and documentation.
type Store struct {
	vectors  interfaces.VectorStore
	embedder interfaces.Embedder

	collections map[model.MemoryKind]string
	nResults    int

	mu   sync.Mutex
	dims int
}

type Option func(*Store)

// WithCollectionNames overrides the default collection names.
func WithCollectionNames(questions, schema, docs string) Option {
	return func(s *Store) {
		s.collections[model.MemoryQuestion] = questions
		s.collections[model.MemorySchema] = schema
		s.collections[model.MemoryDoc] = docs
	}
}

// WithNResults sets how many entries each collection contributes to a
// retrieval context.
func WithNResults(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.nResults = n
		}
	}
}

func New(vectors interfaces.VectorStore, embedder interfaces.Embedder, opts ...Option) *Store {
	s := &Store{
		vectors:  vectors,
		embedder: embedder,
		collections: map[model.MemoryKind]string{
			model.MemoryQuestion: DefaultQuestionCollection,
			model.MemorySchema:   DefaultSchemaCollection,
			model.MemoryDoc:      DefaultDocCollection,
		},
		nResults: model.DefaultConfig().NResults,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var kinds = []model.MemoryKind{model.MemoryQuestion, model.MemorySchema, model.MemoryDoc}

// ensure creates the collections once the embedding dimensionality is known.
func (s *Store) ensure(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dims == dims {
		return nil
	}
	for _, kind := range kinds {
		if err := s.vectors.EnsureCollection(ctx, s.collections[kind], dims); err != nil {
			return goerr.Wrap(err, "failed to prepare memory collection",
				goerr.V("collection", s.collections[kind]), goerr.V("dims", dims))
		}
	}
	s.dims = dims
	return nil
}

// forget discards the known dimensionality so the next embedding ensures
// the collections again.
func (s *Store) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dims = 0
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	if len(vec) == 0 {
		return nil, goerr.Wrap(repository.ErrEmptyVector, "embedder returned no values")
	}
	if err := s.ensure(ctx, len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *Store) add(ctx context.Context, entry *model.MemoryEntry, embedText string, payload map[string]string) (string, error) {
	vec, err := s.embed(ctx, embedText)
	if err != nil {
		return "", err
	}

	payload[keyKind] = string(entry.Kind)
	err = s.vectors.Upsert(ctx, s.collections[entry.Kind], string(entry.ID), vec, payload)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		// dropped by another process since it was ensured
		s.forget()
		if err := s.ensure(ctx, len(vec)); err != nil {
			return "", err
		}
		err = s.vectors.Upsert(ctx, s.collections[entry.Kind], string(entry.ID), vec, payload)
	}
	if err != nil {
		return "", goerr.Wrap(err, "failed to store memory entry", goerr.V("kind", entry.Kind), goerr.V("id", entry.ID))
	}

	logging.From(ctx).Debug("memory entry stored", "ref", entry.Ref())
	return entry.Ref(), nil
}

// AddQuestionSQL stores a question with the SQL that answers it. Storing the
// same pair again overwrites the existing entry.
func (s *Store) AddQuestionSQL(ctx context.Context, question, sql string) (string, error) {
	if question == "" || sql == "" {
		return "", goerr.New("question and sql are required")
	}
	content := model.QuestionContent(question, sql)
	entry := &model.MemoryEntry{ID: model.NewMemoryID(content), Kind: model.MemoryQuestion, Text: question, SQL: sql}
	return s.add(ctx, entry, content, map[string]string{
		keyText:     content,
		keyQuestion: question,
		keySQL:      sql,
	})
}

func (s *Store) AddSchema(ctx context.Context, ddl string) (string, error) {
	if ddl == "" {
		return "", goerr.New("ddl is required")
	}
	entry := &model.MemoryEntry{ID: model.NewMemoryID(ddl), Kind: model.MemorySchema, Text: ddl}
	return s.add(ctx, entry, ddl, map[string]string{keyText: ddl})
}

func (s *Store) AddDocumentation(ctx context.Context, doc string) (string, error) {
	if doc == "" {
		return "", goerr.New("documentation is required")
	}
	entry := &model.MemoryEntry{ID: model.NewMemoryID(doc), Kind: model.MemoryDoc, Text: doc}
	return s.add(ctx, entry, doc, map[string]string{keyText: doc})
}

// Assemble embeds the question once and collects the nearest entries of
// every collection.
func (s *Store) Assemble(ctx context.Context, question string) (*model.RetrievalContext, error) {
	vec, err := s.embed(ctx, question)
	if err != nil {
		return nil, err
	}

	rc := &model.RetrievalContext{}
	for _, kind := range kinds {
		points, err := s.vectors.Search(ctx, s.collections[kind], vec, s.nResults)
		if errors.Is(err, repository.ErrCollectionNotFound) {
			logging.From(ctx).Warn("memory collection is missing", "collection", s.collections[kind])
			s.forget()
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memory", goerr.V("collection", s.collections[kind]))
		}

		for _, p := range points {
			switch kind {
			case model.MemoryQuestion:
				rc.Examples = append(rc.Examples, model.Example{Question: p.Payload[keyQuestion], SQL: p.Payload[keySQL]})
			case model.MemorySchema:
				rc.Schemas = append(rc.Schemas, p.Payload[keyText])
			case model.MemoryDoc:
				rc.Docs = append(rc.Docs, p.Payload[keyText])
			}
		}
	}

	logging.From(ctx).Debug("retrieval context assembled",
		"examples", len(rc.Examples), "schemas", len(rc.Schemas), "docs", len(rc.Docs))
	return rc, nil
}

func (s *Store) scroll(ctx context.Context, kind model.MemoryKind) ([]*model.MemoryEntry, error) {
	points, err := s.vectors.Scroll(ctx, s.collections[kind], scrollLimit)
	if errors.Is(err, repository.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memory", goerr.V("collection", s.collections[kind]))
	}

	entries := make([]*model.MemoryEntry, 0, len(points))
	for _, p := range points {
		entry := &model.MemoryEntry{ID: model.MemoryID(p.ID), Kind: kind, Text: p.Payload[keyText]}
		if kind == model.MemoryQuestion {
			entry.Text = p.Payload[keyQuestion]
			entry.SQL = p.Payload[keySQL]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// List returns every stored entry, questions first, then schema, then docs.
func (s *Store) List(ctx context.Context) ([]*model.MemoryEntry, error) {
	var all []*model.MemoryEntry
	for _, kind := range kinds {
		entries, err := s.scroll(ctx, kind)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Schemas returns the text of every stored schema fragment.
func (s *Store) Schemas(ctx context.Context) ([]string, error) {
	entries, err := s.scroll(ctx, model.MemorySchema)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return texts, nil
}

// Remove deletes the entry named by a suffixed reference. It reports false
// when the reference does not carry a known suffix.
func (s *Store) Remove(ctx context.Context, ref string) (bool, error) {
	id, kind, ok := model.ParseMemoryRef(ref)
	if !ok {
		return false, nil
	}
	if err := s.vectors.Delete(ctx, s.collections[kind], string(id)); err != nil {
		if errors.Is(err, repository.ErrCollectionNotFound) {
			return true, nil
		}
		return false, goerr.Wrap(err, "failed to remove memory entry", goerr.V("ref", ref))
	}
	return true, nil
}

// Reset drops one collection and recreates it empty.
func (s *Store) Reset(ctx context.Context, kind model.MemoryKind) error {
	if !kind.Valid() {
		return goerr.New("unknown memory kind", goerr.V("kind", kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.collections[kind]
	if err := s.vectors.DropCollection(ctx, name); err != nil {
		return goerr.Wrap(err, "failed to drop collection", goerr.V("collection", name))
	}
	if s.dims > 0 {
		if err := s.vectors.EnsureCollection(ctx, name, s.dims); err != nil {
			return goerr.Wrap(err, "failed to recreate collection", goerr.V("collection", name))
		}
	}
	logging.From(ctx).Info("memory collection reset", "collection", name)
	return nil
}
