package tableio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outlier-sync/internal/model"
)

// ReadJSON reads a table encoded as an array of objects. Field order within
// each object is kept.
func ReadJSON(ctx context.Context, r io.Reader, opts Options) (*model.Table, error) {
	r, err := decodeCharset(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	p := newCellParser(opts.schema())
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "tableio: read opening token")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, eris.Errorf("tableio: expected '[', got %v", tok)
	}

	t := model.NewTable()
	for dec.More() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "tableio: context cancelled")
		}
		rec := model.NewRecord()
		if err := dec.Decode(rec); err != nil {
			return nil, eris.Wrapf(err, "tableio: decode row %d", t.Len())
		}
		p.normalize(rec)
		t.Append(rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "tableio: read closing token")
	}
	return t, nil
}

// WriteJSON writes t as an indented array of objects.
func WriteJSON(w io.Writer, t *model.Table) error {
	b, err := t.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "tableio: encode table")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return eris.Wrap(err, "tableio: indent json")
	}
	buf.WriteByte('\n')
	if _, err := buf.WriteTo(w); err != nil {
		return eris.Wrap(err, "tableio: write json")
	}
	return nil
}
