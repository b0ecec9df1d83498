package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

func TestNewResultSetNumericInference(t *testing.T) {
	rs := model.NewResultSet(
		[]string{"name", "total", "price", "empty"},
		[]string{"TEXT", "", "NUMERIC", "INTEGER"},
		[][]any{
			{[]byte("alice"), int64(3), []byte("12.50"), nil},
			{"bob", int64(5), []byte("7"), nil},
		},
	)

	gt.Equal(t, rs.NumRows(), 2)
	gt.Equal(t, rs.NumCols(), 4)
	gt.False(t, rs.Columns[0].Numeric)
	gt.True(t, rs.Columns[1].Numeric)
	gt.True(t, rs.Columns[2].Numeric)
	gt.True(t, rs.Columns[3].Numeric)
	gt.Equal(t, rs.Rows[0][0], any("alice"))
	gt.Equal(t, rs.Rows[0][2], any(12.5))
	gt.Equal(t, rs.Rows[1][2], any(int64(7)))
}

func TestResultSetRecordsRoundTrip(t *testing.T) {
	rs := model.NewResultSet([]string{"city", "n"}, nil, [][]any{{"Tokyo", 10.0}, {"Paris", 4.0}})

	rebuilt := model.ResultSetFromRecords(rs.ColumnNames(), rs.Records())
	gt.Equal(t, rebuilt.ColumnNames(), []string{"city", "n"})
	gt.Equal(t, rebuilt.Rows[1][0], any("Paris"))
	gt.True(t, rebuilt.Columns[1].Numeric)
}

func TestResultSetPreview(t *testing.T) {
	rows := make([][]any, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, []any{int64(i)})
	}
	rs := model.NewResultSet([]string{"i"}, nil, rows)

	preview := rs.Preview(10)
	gt.S(t, preview).Contains("i\n0\n")
	gt.S(t, preview).Contains("\n9\n")
	gt.S(t, preview).NotContains("\n10\n")
}

func TestResultSetDuplicateColumns(t *testing.T) {
	rs := model.NewResultSet(
		[]string{"id", "id", "id_1"},
		nil,
		[][]any{{int64(1), int64(2), int64(3)}},
	)

	gt.Equal(t, rs.ColumnNames(), []string{"id", "id_1", "id_1_1"})

	records := rs.Records()
	gt.A(t, records).Length(1)
	gt.Equal(t, records[0]["id"], any(int64(1)))
	gt.Equal(t, records[0]["id_1"], any(int64(2)))
	gt.Equal(t, records[0]["id_1_1"], any(int64(3)))
}
