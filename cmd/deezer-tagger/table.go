package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"deezer-tagger/internal/engine"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func optionsTable(options []engine.Option) string {
	rows := make([][]string, 0, len(options))
	for i, o := range options {
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			o.Title,
			o.Artist,
			o.Album,
			formatDuration(time.Duration(o.Duration) * time.Second),
			o.ID,
		})
	}
	return renderTable(
		[]string{"#", "Title", "Artist", "Album", "Length", "Deezer ID"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func resultsTable(results []engine.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		match, detail := "", ""
		if r.Match != nil {
			match = r.Match.Label
		}
		if r.Err != nil {
			detail = r.Err.Error()
		}
		rows = append(rows, []string{r.Path, r.Status.String(), match, detail})
	}
	return renderTable([]string{"File", "Status", "Match", "Detail"}, rows, nil)
}

func infoTable(path string, info *engine.FileInfo) string {
	cover := "no"
	if info.HasCover {
		cover = "yes"
	}
	rows := [][]string{
		{"File", path},
		{"Format", info.Format},
		{"Title", info.Title},
		{"Artist", info.Artist},
		{"Album", info.Album},
		{"Length", formatDuration(info.Duration)},
		{"Cover", cover},
	}
	for _, w := range info.Warnings {
		rows = append(rows, []string{"Warning", w})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
