package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. A zero maxWidth leaves the column
// unbounded; longer cells wrap inside it.
type column struct {
	title    string
	numeric  bool
	maxWidth int
}

// sourceColumnWidth keeps deep source paths from pushing the status column
// off narrow terminals.
const sourceColumnWidth = 48

var (
	countColumns = []column{{title: "Status"}, {title: "Count", numeric: true}}

	mappingColumns = []column{
		{title: "Drive"},
		{title: "Source", maxWidth: sourceColumnWidth},
		{title: "Status"},
		{title: "Mode"},
		{title: "Auto"},
	}

	indexedMappingColumns = append([]column{{title: "#", numeric: true}}, mappingColumns...)
)

func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	// Headers keep their title case; StyleRounded would upper-case them.
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		align := text.AlignLeft
		if col.numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    col.maxWidth,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
