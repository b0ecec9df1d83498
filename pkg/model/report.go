package model

import "encoding/json"

// QueryReport is the JSON form of a SmartQueryResult used by the CLI and the
// MCP server.
type QueryReport struct {
	Question      string             `json:"question"`
	Success       bool               `json:"success"`
	Error         string             `json:"error,omitempty"`
	SQL           string             `json:"sql,omitempty"`
	FinalSQL      string             `json:"final_sql,omitempty"`
	RetryCount    int                `json:"retry_count"`
	UsedMemory    bool               `json:"used_memory"`
	Columns       []string           `json:"columns,omitempty"`
	Rows          []map[string]any   `json:"rows,omitempty"`
	TotalRows     int                `json:"total_rows"`
	Truncated     bool               `json:"truncated,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	Explanation   string             `json:"explanation,omitempty"`
	Followups     []string           `json:"followups,omitempty"`
	Visualization json.RawMessage    `json:"visualization,omitempty"`
	TimingMS      map[string]float64 `json:"timing_ms"`
}

// Report converts the result. maxRows of zero or less keeps every row.
func (r *SmartQueryResult) Report(maxRows int) *QueryReport {
	rep := &QueryReport{
		Question:    r.Question,
		Success:     r.Success,
		Error:       r.ErrorMessage,
		SQL:         r.SQL,
		FinalSQL:    r.FinalSQL,
		RetryCount:  r.RetryCount,
		UsedMemory:  r.UsedMemory,
		Summary:     r.Summary,
		Explanation: r.Explanation,
		Followups:   r.Followups,
		TimingMS:    r.Timing.Details(),
	}

	if r.Result != nil {
		rs := r.Result
		rep.Columns = rs.ColumnNames()
		rep.TotalRows = rs.NumRows()
		if maxRows > 0 && rs.NumRows() > maxRows {
			rs = rs.Head(maxRows)
			rep.Truncated = true
		}
		rep.Rows = rs.Records()
	}
	if r.Visualization != nil {
		rep.Visualization = r.Visualization.Spec
	}
	return rep
}
