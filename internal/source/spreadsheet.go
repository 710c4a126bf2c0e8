package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetParser turns each worksheet into a section holding one table
type SpreadsheetParser struct{}

// NewSpreadsheetParser creates a new spreadsheet parser
func NewSpreadsheetParser() *SpreadsheetParser {
	return &SpreadsheetParser{}
}

// Name returns the parser name
func (p *SpreadsheetParser) Name() string {
	return "spreadsheet"
}

// CanHandle checks if this parser can handle the given file name/content type
func (p *SpreadsheetParser) CanHandle(name string, contentType string) bool {
	return contentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" || hasExt(name, ".xlsx", ".xlsm")
}

// Parse reads every sheet's rows
func (p *SpreadsheetParser) Parse(ctx context.Context, data []byte) (*Parsed, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	b := newBuilder()
	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		b.page = i + 1
		b.heading(sheet, 1)
		b.table(padRows(rows))
	}
	return b.parsed(len(f.GetSheetList())), nil
}

// padRows makes every row as wide as the widest one
func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, width)
		copy(out[i], r)
	}
	return out
}
