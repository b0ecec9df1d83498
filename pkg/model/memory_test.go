package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

func TestNewMemoryIDIsStable(t *testing.T) {
	a := model.NewMemoryID(model.QuestionContent("How many users?", "SELECT COUNT(*) FROM users"))
	b := model.NewMemoryID(model.QuestionContent("How many users?", "SELECT COUNT(*) FROM users"))
	c := model.NewMemoryID(model.QuestionContent("How many users?", "SELECT COUNT(id) FROM users"))

	gt.Equal(t, a, b)
	gt.NotEqual(t, a, c)
}

func TestParseMemoryRef(t *testing.T) {
	entry := &model.MemoryEntry{ID: model.NewMemoryID("CREATE TABLE t (id INT)"), Kind: model.MemorySchema}

	id, kind, ok := model.ParseMemoryRef(entry.Ref())
	gt.True(t, ok)
	gt.Equal(t, id, entry.ID)
	gt.Equal(t, kind, model.MemorySchema)

	_, _, ok = model.ParseMemoryRef(string(entry.ID) + "-x")
	gt.False(t, ok)
	_, _, ok = model.ParseMemoryRef("-q")
	gt.False(t, ok)
}

func TestRetrievalContextUsedMemory(t *testing.T) {
	var nilCtx *model.RetrievalContext
	gt.False(t, nilCtx.UsedMemory())
	gt.False(t, (&model.RetrievalContext{}).UsedMemory())
	gt.True(t, (&model.RetrievalContext{Docs: []string{"users are customers"}}).UsedMemory())
}
