package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// Align — выравнивание колонки таблицы.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	tty      bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
// Рамки и цвета включаются только для терминала.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		tty:      isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// NewWriterOutput создаёт Output поверх произвольных writers (без цветов).
func NewWriterOutput(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, aligns []Align, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows, aligns)
}

// Table выводит данные в виде таблицы.
func (o *Output) Table(headers []string, rows [][]string, aligns []Align) {
	fmt.Fprintln(o.w, RenderTable(headers, rows, aligns, o.tty))
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// Status раскрашивает статус стадии для терминала.
func (o *Output) Status(status string) string {
	if !o.tty {
		return status
	}
	switch status {
	case "COMPLETED", "SUCCEEDED":
		return text.FgGreen.Sprint(status)
	case "FAILED":
		return text.FgRed.Sprint(status)
	case "IN_PROGRESS", "ENQUEUING", "RUNNING", "COMPLETED_WITH_FAILURES":
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}

// RenderTable рендерит таблицу. boxed — рамки для терминала;
// без них колонки разделены пробелами и вывод удобно резать через awk.
func RenderTable(headers []string, rows [][]string, aligns []Align, boxed bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if boxed {
		tw.SetStyle(table.StyleRounded)
	} else {
		style := table.StyleDefault
		style.Options.DrawBorder = false
		style.Options.SeparateColumns = false
		style.Options.SeparateHeader = false
		tw.SetStyle(style)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
