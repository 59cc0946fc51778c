package tableio

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outlier-sync/internal/model"
)

// DefaultSheet is the sheet name used when writing workbooks.
const DefaultSheet = "outliers"

// ReadXLSX reads a table from a workbook sheet whose first row is the header.
func ReadXLSX(path string, opts Options) (*model.Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "tableio: open xlsx")
	}

	sheet, err := getSheet(f, opts.Sheet)
	if err != nil {
		return nil, err
	}

	p := newCellParser(opts.schema())
	var header []string
	t := model.NewTable()
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := rowToStrings(row)
		if header == nil {
			header = cells
			for _, h := range header {
				t.AddColumn(h)
			}
			continue
		}
		if blank(cells) {
			continue
		}
		t.Append(toRecord(p, header, cells))
	}
	if header == nil {
		return nil, eris.Errorf("tableio: sheet %q has no header row", sheet.Name)
	}
	return t, nil
}

// WriteXLSX writes t to a new workbook with a single sheet.
func WriteXLSX(path string, t *model.Table, sheetName string) error {
	if sheetName == "" {
		sheetName = DefaultSheet
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "tableio: add sheet")
	}

	cols := t.Columns()
	head := sheet.AddRow()
	for _, c := range cols {
		head.AddCell().SetString(c)
	}
	for i, rec := range t.Records() {
		row := sheet.AddRow()
		for _, c := range cols {
			v := rec.Value(c)
			cell := row.AddCell()
			if n, ok := v.Num(); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
				cell.SetFloat(n)
				continue
			}
			s, err := cellText(v)
			if err != nil {
				return eris.Wrapf(err, "tableio: row %d", i)
			}
			cell.SetString(s)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "tableio: save %s", path)
	}
	return nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("tableio: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("tableio: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
