package spreadsheet

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/logger"
)

type column int

const (
	colEmail column = iota
	colName
	colURL
	colCompany
	colTitle
)

// headerAliases maps a normalized header (lowercase, letters and digits only) to its column.
var headerAliases = map[string]column{
	"email":             colEmail,
	"emailaddress":      colEmail,
	"name":              colName,
	"fullname":          colName,
	"websiteurl":        colURL,
	"website":           colURL,
	"url":               colURL,
	"clientcompany":     colCompany,
	"company":           colCompany,
	"clientdesignation": colTitle,
	"designation":       colTitle,
	"title":             colTitle,
}

// ExcelParser reads the first sheet of an xlsx workbook. The first row is the header.
type ExcelParser struct{}

func NewExcelParser() *ExcelParser {
	return &ExcelParser{}
}

var _ gateway.SpreadsheetParser = (*ExcelParser)(nil)

// ParseRows returns rows in sheet order, skipping any row without an email, a name or a website.
func (p *ExcelParser) ParseRows(ctx context.Context, path string) ([]entity.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(cells) == 0 {
		return nil, nil
	}

	index := mapHeader(cells[0])
	for _, required := range []column{colEmail, colName, colURL} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing required column %s", required)
		}
	}

	rows := make([]entity.Row, 0, len(cells)-1)
	skipped := 0
	for _, record := range cells[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := entity.Row{
			RecipientEmail:   cell(record, index, colEmail),
			RecipientName:    cell(record, index, colName),
			TargetURL:        cell(record, index, colURL),
			RecipientCompany: cell(record, index, colCompany),
			RecipientTitle:   cell(record, index, colTitle),
		}
		if row.RecipientEmail == "" || row.RecipientName == "" || row.TargetURL == "" {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if skipped > 0 {
		logger.Infof("Spreadsheet rows skipped path=%s skipped=%d kept=%d", path, skipped, len(rows))
	}
	return rows, nil
}

func (c column) String() string {
	switch c {
	case colEmail:
		return "Email"
	case colName:
		return "Name"
	case colURL:
		return "Website-Url"
	case colCompany:
		return "Client-Company"
	default:
		return "Client-Designation"
	}
}

func mapHeader(header []string) map[column]int {
	index := make(map[column]int, len(header))
	for i, h := range header {
		col, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := index[col]; !seen {
			index[col] = i
		}
	}
	return index
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cell(record []string, index map[column]int, col column) string {
	i, ok := index[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
