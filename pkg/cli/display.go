package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"github.com/urfave/cli/v3"
)

const defaultDisplayRows = 20

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numericStyle = cellStyle.Align(lipgloss.Right)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// display prints query results for a terminal.
type display struct {
	w       io.Writer
	rows    int64
	chart   string
	asJSON  bool
	plain   bool
	verbose bool
}

// printSQL highlights sql, falling back to plain text.
func (d *display) printSQL(sql string) {
	if d.plain {
		fmt.Fprintln(d.w, sql)
		return
	}
	if err := quick.Highlight(d.w, sql+"\n", "sql", "terminal256", "monokai"); err != nil {
		fmt.Fprintln(d.w, sql)
	}
}

// printMarkdown renders LLM prose, which is usually markdown.
func (d *display) printMarkdown(text string) {
	if d.plain {
		fmt.Fprintln(d.w, text)
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(d.w, text)
		return
	}
	out, err := r.Render(text)
	if err != nil {
		fmt.Fprintln(d.w, text)
		return
	}
	fmt.Fprint(d.w, out)
}

func (d *display) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !d.plain {
		msg = noteStyle.Render(msg)
	}
	fmt.Fprintln(d.w, msg)
}

// resultTable renders the first n rows of rs.
func resultTable(rs *model.ResultSet, n int) string {
	head := rs.Head(n)
	rows := make([][]string, 0, len(head.Rows))
	for _, row := range head.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = model.FormatValue(v)
		}
		rows = append(rows, cells)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(rs.ColumnNames()...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col < len(rs.Columns) && rs.Columns[col].Numeric:
				return numericStyle
			}
			return cellStyle
		}).
		String()
}

func (d *display) printTable(rs *model.ResultSet) {
	if rs.Empty() {
		d.note("(no rows)")
		return
	}
	n := int(d.rows)
	if n <= 0 {
		n = defaultDisplayRows
	}
	fmt.Fprintln(d.w, resultTable(rs, n))
	if rs.NumRows() > n {
		d.note("... %d more rows", rs.NumRows()-n)
	}
}

// displayFlags controls how results are printed
func displayFlags(d *display) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "rows",
			Usage:       "Rows printed per result",
			Value:       defaultDisplayRows,
			Destination: &d.rows,
		},
		&cli.StringFlag{
			Name:        "chart",
			Usage:       "Save the Vega-Lite chart to this file",
			Destination: &d.chart,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print results as JSON",
			Destination: &d.asJSON,
		},
		&cli.BoolFlag{
			Name:        "plain",
			Usage:       "Disable colors and markdown rendering",
			Sources:     cli.EnvVars("TALK2SQL_PLAIN"),
			Destination: &d.plain,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "Print retry count, memory use and timing",
			Destination: &d.verbose,
		},
	}
}

// printResult writes one smart query outcome.
func (d *display) printResult(res *model.SmartQueryResult) error {
	if d.asJSON {
		enc := json.NewEncoder(d.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Report(int(d.rows))); err != nil {
			return goerr.Wrap(err, "failed to encode result")
		}
		return nil
	}

	if res.SQL != "" {
		d.printSQL(res.SQL)
	}
	if res.FinalSQL != "" {
		d.note("repaired after %d retries:", res.RetryCount)
		d.printSQL(res.FinalSQL)
	}

	if !res.Success {
		msg := "Error: " + res.ErrorMessage
		if !d.plain {
			msg = errorStyle.Render(msg)
		}
		fmt.Fprintln(d.w, msg)
		return nil
	}

	if res.Result != nil {
		d.printTable(res.Result)
	}

	if res.Summary != "" {
		d.printMarkdown(res.Summary)
	}
	if res.Explanation != "" {
		d.printMarkdown(res.Explanation)
	}
	if len(res.Followups) > 0 {
		var b strings.Builder
		b.WriteString("**Follow-up questions**\n\n")
		for _, q := range res.Followups {
			b.WriteString("- " + q + "\n")
		}
		d.printMarkdown(b.String())
	}

	if res.Visualization != nil {
		if err := d.writeChart(res.Visualization); err != nil {
			return err
		}
	}

	if d.verbose {
		d.note("memory used: %t, retries: %d, total: %s",
			res.UsedMemory, res.RetryCount, res.Timing.Total.Round(time.Millisecond))
	}
	return nil
}

// writeChart saves the Vega-Lite document to the --chart path.
func (d *display) writeChart(fig *model.Figure) error {
	if fig.IsPlaceholder() {
		d.note("chart unavailable: %s", fig.Error)
		return nil
	}
	if d.chart == "" {
		d.note("chart available, pass --chart <file> to save it")
		return nil
	}

	if err := os.WriteFile(d.chart, fig.Spec, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write chart", goerr.V("path", d.chart))
	}
	d.note("chart %q written to %s", fig.Title, d.chart)
	return nil
}
