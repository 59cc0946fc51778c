package tableio

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outlier-sync/internal/model"
)

// ReadCSV reads a delimited table with a header row.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) (*model.Table, error) {
	r, err := decodeCharset(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	rowCh, errCh := streamCSV(ctx, r, opts.Delimiter)
	p := newCellParser(opts.schema())

	var header []string
	var rowErr error
	t := model.NewTable()
	for row := range rowCh {
		if rowErr != nil {
			continue
		}
		if header == nil {
			header = row.fields
			for _, h := range header {
				t.AddColumn(h)
			}
			continue
		}
		if err := checkWidth(header, row); err != nil {
			rowErr = err
			continue
		}
		t.Append(toRecord(p, header, row.fields))
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if rowErr != nil {
		return nil, rowErr
	}
	if header == nil {
		return nil, eris.New("tableio: csv has no header row")
	}
	return t, nil
}

// checkWidth rejects rows carrying values past the last header column. Empty
// trailing cells are tolerated.
func checkWidth(header []string, row csvRow) error {
	for i := len(header); i < len(row.fields); i++ {
		if row.fields[i] != "" {
			return eris.Errorf("tableio: csv line %d has %d fields, header has %d",
				row.line, len(row.fields), len(header))
		}
	}
	return nil
}

func toRecord(p cellParser, header, row []string) *model.Record {
	rec := model.NewRecord()
	for i, name := range header {
		if i < len(row) {
			rec.Set(name, p.parse(name, row[i]))
		} else {
			rec.Set(name, model.Null())
		}
	}
	return rec
}

// csvRow is one parsed row and the line it starts on.
type csvRow struct {
	line   int
	fields []string
}

// streamCSV sends rows, header included, to a channel. Both channels are
// closed when processing completes.
func streamCSV(ctx context.Context, r io.Reader, delim rune) (<-chan csvRow, <-chan error) {
	rowCh := make(chan csvRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if delim != 0 {
			reader.Comma = delim
		}
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tableio: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "tableio: read csv")
				return
			}
			line, _ := reader.FieldPos(0)

			select {
			case rowCh <- csvRow{line: line, fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tableio: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// WriteCSV writes t as comma-separated text with a header row.
func WriteCSV(w io.Writer, t *model.Table) error {
	return writeDelimited(w, t, ',')
}

func writeDelimited(w io.Writer, t *model.Table, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	cols := t.Columns()
	if err := cw.Write(cols); err != nil {
		return eris.Wrap(err, "tableio: write header")
	}
	row := make([]string, len(cols))
	for i, rec := range t.Records() {
		for j, c := range cols {
			s, err := cellText(rec.Value(c))
			if err != nil {
				return eris.Wrapf(err, "tableio: row %d", i)
			}
			row[j] = s
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "tableio: write row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "tableio: flush csv")
}
