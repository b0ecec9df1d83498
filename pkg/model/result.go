package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Column describes one result column. Numeric is inferred from the declared
// database type and from the values actually returned.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Numeric bool   `json:"numeric"`
}

// ResultSet is a columnar snapshot of a query result.
type ResultSet struct {
	Columns []Column
	Rows    [][]any
}

var numericTypes = []string{
	"INT", "REAL", "FLOA", "DOUB", "NUMERIC", "DECIMAL", "BIGNUMERIC", "SERIAL", "MONEY",
}

func isNumericType(dbType string) bool {
	t := strings.ToUpper(dbType)
	if t == "" || strings.Contains(t, "INTERVAL") || strings.Contains(t, "POINT") {
		return false
	}
	for _, prefix := range numericTypes {
		if strings.Contains(t, prefix) {
			return true
		}
	}
	return false
}

func isNumberValue(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

// normalizeValue converts driver-specific representations into values that
// survive a JSON round trip.
func normalizeValue(v any, numericDecl bool) any {
	switch x := v.(type) {
	case []byte:
		return normalizeValue(string(x), numericDecl)
	case string:
		if numericDecl {
			if i, err := strconv.ParseInt(x, 10, 64); err == nil {
				return i
			}
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	return v
}

// NewResultSet builds a ResultSet from driver output. types may be nil or
// shorter than names.
func NewResultSet(names []string, types []string, rows [][]any) *ResultSet {
	rs := &ResultSet{
		Columns: make([]Column, len(names)),
		Rows:    rows,
	}
	if rs.Rows == nil {
		rs.Rows = [][]any{}
	}

	for i, name := range names {
		col := Column{Name: name}
		if i < len(types) {
			col.Type = types[i]
		}
		numericDecl := isNumericType(col.Type)

		seen, allNumbers := 0, true
		for _, row := range rs.Rows {
			if i >= len(row) {
				continue
			}
			row[i] = normalizeValue(row[i], numericDecl)
			if row[i] == nil {
				continue
			}
			seen++
			if !isNumberValue(row[i]) {
				allNumbers = false
			}
		}

		switch {
		case seen > 0:
			col.Numeric = allNumbers
		default:
			col.Numeric = numericDecl
		}
		rs.Columns[i] = col
	}

	return rs
}

// ResultSetFromRecords rebuilds a ResultSet from its row-oriented form.
func ResultSetFromRecords(columns []string, records []map[string]any) *ResultSet {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, name := range columns {
			row[i] = rec[name]
		}
		rows = append(rows, row)
	}
	return NewResultSet(columns, nil, rows)
}

func (rs *ResultSet) NumRows() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

func (rs *ResultSet) NumCols() int {
	if rs == nil {
		return 0
	}
	return len(rs.Columns)
}

func (rs *ResultSet) Empty() bool {
	return rs.NumRows() == 0
}

// ColumnNames returns unique column names. A repeated name, as in
// "SELECT a.id, b.id", gets a numeric suffix: id, id_1.
func (rs *ResultSet) ColumnNames() []string {
	if rs == nil {
		return nil
	}
	names := make([]string, len(rs.Columns))
	seen := make(map[string]int, len(rs.Columns))
	for i, c := range rs.Columns {
		name := c.Name
		for n := seen[c.Name]; ; n++ {
			if n > 0 {
				name = fmt.Sprintf("%s_%d", c.Name, n)
			}
			if _, dup := seen[name]; !dup {
				seen[c.Name] = n + 1
				break
			}
		}
		seen[name] = 1
		names[i] = name
	}
	return names
}

func (rs *ResultSet) HasNumeric() bool {
	if rs == nil {
		return false
	}
	for _, c := range rs.Columns {
		if c.Numeric {
			return true
		}
	}
	return false
}

// Records returns the row-oriented representation used for persistence and
// chart data binding.
func (rs *ResultSet) Records() []map[string]any {
	if rs == nil {
		return nil
	}
	names := rs.ColumnNames()
	records := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		rec := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records
}

// Head returns a copy limited to the first n rows.
func (rs *ResultSet) Head(n int) *ResultSet {
	if rs == nil {
		return nil
	}
	if n > len(rs.Rows) {
		n = len(rs.Rows)
	}
	return &ResultSet{Columns: rs.Columns, Rows: rs.Rows[:n]}
}

// Preview renders the first n rows as tab separated text for prompts.
func (rs *ResultSet) Preview(n int) string {
	if rs == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(rs.ColumnNames(), "\t"))
	b.WriteString("\n")
	for _, row := range rs.Head(n).Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = FormatValue(v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatValue renders a single cell for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

// ColumnSummary describes columns as "name (type)" for prompts.
func (rs *ResultSet) ColumnSummary() string {
	if rs == nil {
		return ""
	}
	parts := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		kind := "text"
		if c.Numeric {
			kind = "numeric"
		}
		parts[i] = fmt.Sprintf("%s (%s)", c.Name, kind)
	}
	return strings.Join(parts, ", ")
}
