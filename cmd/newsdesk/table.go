package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/aggregator"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// writeTable prints rows as an aligned table. Column widths use display
// width so wide characters in source names and errors line up.
func writeTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := runewidth.StringWidth(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	line := func(cells []string) {
		var sb strings.Builder
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(widths)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, width))
			sb.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}

	line(header)
	sep := make([]string, len(widths))
	for i, width := range widths {
		sep[i] = strings.Repeat("-", width)
	}
	line(sep)
	for _, row := range rows {
		line(row)
	}
}

func printResult(w io.Writer, res aggregator.Result) {
	var rows [][]string
	for _, name := range res.Sources() {
		if n, ok := res.Success[name]; ok {
			rows = append(rows, []string{name, "ok", strconv.Itoa(n), ""})
			continue
		}
		rows = append(rows, []string{name, "failed", "0", runewidth.Truncate(res.Failed[name], 60, "...")})
	}
	writeTable(w, []string{"Source", "Status", "Articles", "Error"}, rows)
	fmt.Fprintf(w, "\nTotal: %d articles\n", res.Total)
}

func printRuns(w io.Writer, runs []store.Run) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			r.Source,
			r.Status,
			strconv.Itoa(r.Articles),
			r.Duration().Round(time.Millisecond).String(),
			runewidth.Truncate(r.Error, 60, "..."),
		})
	}
	writeTable(w, []string{"Started", "Source", "Status", "Articles", "Duration", "Error"}, rows)
}
