package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// MemoryKind identifies which retrieval collection an entry belongs to.
type MemoryKind string

const (
	MemoryQuestion MemoryKind = "question"
	MemorySchema   MemoryKind = "schema"
	MemoryDoc      MemoryKind = "documentation"
)

// Suffix is appended to an entry ID to build the external reference that
// identifies both the entry and its collection.
func (k MemoryKind) Suffix() string {
	switch k {
	case MemoryQuestion:
		return "-q"
	case MemorySchema:
		return "-s"
	case MemoryDoc:
		return "-d"
	}
	return ""
}

func (k MemoryKind) Valid() bool {
	return k.Suffix() != ""
}

// ParseMemoryKind accepts both the collection short names used by the CLI and
// the kind names stored in payloads.
func ParseMemoryKind(s string) (MemoryKind, error) {
	switch strings.ToLower(s) {
	case "question", "questions", "sql":
		return MemoryQuestion, nil
	case "schema", "ddl":
		return MemorySchema, nil
	case "doc", "docs", "documentation":
		return MemoryDoc, nil
	}
	return "", goerr.New("unknown memory kind", goerr.V("kind", s))
}

// memoryNamespace scopes content hashes so they never collide with IDs from
// other name-based UUID users.
var memoryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/m-mizutani/talk2sql/memory"))

type MemoryID string

// NewMemoryID derives a stable ID from canonical content. Identical content
// always maps to the same ID so re-insertion becomes an upsert.
func NewMemoryID(content string) MemoryID {
	return MemoryID(uuid.NewSHA1(memoryNamespace, []byte(content)).String())
}

// QuestionContent is the canonical text hashed for question/SQL pairs.
func QuestionContent(question, sql string) string {
	return "Question: " + question + "\nSQL: " + sql
}

// MemoryEntry is one item of retrieval context.
type MemoryEntry struct {
	ID   MemoryID
	Kind MemoryKind
	Text string
	SQL  string
}

// Ref returns the external reference, e.g. "<uuid>-q".
func (e *MemoryEntry) Ref() string {
	return string(e.ID) + e.Kind.Suffix()
}

// ParseMemoryRef splits an external reference into its ID and kind.
func ParseMemoryRef(ref string) (MemoryID, MemoryKind, bool) {
	for _, kind := range []MemoryKind{MemoryQuestion, MemorySchema, MemoryDoc} {
		if id, ok := strings.CutSuffix(ref, kind.Suffix()); ok && id != "" {
			return MemoryID(id), kind, true
		}
	}
	return "", "", false
}

// VectorPoint is what a vector store hands back from search and scroll.
type VectorPoint struct {
	ID      string
	Payload map[string]string
	Score   float64
}

// Example is a question/SQL pair retrieved as a few-shot example.
type Example struct {
	Question string
	SQL      string
}

// RetrievalContext is the assembled retrieval context for one question.
type RetrievalContext struct {
	Examples []Example
	Schemas  []string
	Docs     []string
}

// UsedMemory reports whether any collection contributed context.
func (c *RetrievalContext) UsedMemory() bool {
	if c == nil {
		return false
	}
	return len(c.Examples) > 0 || len(c.Schemas) > 0 || len(c.Docs) > 0
}
