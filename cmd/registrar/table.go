package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// cellKind selects how a column is aligned: counts and loads to the right,
// yes/no flags centered, everything else to the left.
type cellKind int

const (
	textCell cellKind = iota
	numberCell
	flagCell
)

type column struct {
	title string
	kind  cellKind
}

func textCol(title string) column   { return column{title: title, kind: textCell} }
func numberCol(title string) column { return column{title: title, kind: numberCell} }
func flagCol(title string) column   { return column{title: title, kind: flagCell} }

const blankCell = "-"

// renderTable renders rows under columns. Missing and empty cells show as "-".
func renderTable(columns []column, rows [][]string) string {
	return newTable(columns, rows).Render() + "\n"
}

// renderTotalsTable is renderTable with a footer summing every number column.
func renderTotalsTable(columns []column, rows [][]string) string {
	tw := newTable(columns, rows)
	footer := make(table.Row, len(columns))
	footer[0] = "Total"
	for i, col := range columns {
		if i > 0 && col.kind == numberCell {
			footer[i] = columnSum(rows, i)
		}
	}
	tw.AppendFooter(footer)
	return tw.Render() + "\n"
}

func newTable(columns []column, rows [][]string) table.Writer {
	tw := table.NewWriter()
	if len(columns) == 0 {
		return tw
	}
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		align := text.AlignLeft
		switch col.kind {
		case numberCell:
			align = text.AlignRight
		case flagCell:
			align = text.AlignCenter
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignFooter: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			cells[i] = blankCell
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw
}

// columnSum adds up column i; any non-numeric cell leaves the total blank.
func columnSum(rows [][]string, i int) string {
	var sum float64
	for _, row := range rows {
		if i >= len(row) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return ""
		}
		sum += value
	}
	return strconv.FormatFloat(sum, 'f', -1, 64)
}
