// Package tableio reads and writes outlier tables as CSV, TSV, XLSX and JSON.
package tableio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/outlier-sync/internal/model"
)

// Options configures the table readers.
type Options struct {
	Schema    model.Schema
	Delimiter rune   // CSV delimiter; default ',' (tab for .tsv)
	Encoding  string // input charset label such as "windows-1252"; default UTF-8
	Sheet     string // XLSX sheet name; default first sheet
}

func (o Options) schema() model.Schema {
	return o.Schema.WithDefaults()
}

// ReadFile reads a table from path, choosing the format by extension.
func ReadFile(ctx context.Context, path string, opts Options) (*model.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv", ".tsv", ".json":
	default:
		return nil, eris.Errorf("tableio: unsupported file type %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tableio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadJSON(ctx, f, opts)
	case ".tsv":
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
	}
	return ReadCSV(ctx, f, opts)
}

// WriteFile writes t to path, choosing the format by extension.
func WriteFile(path string, t *model.Table) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return WriteXLSX(path, t, "")
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tableio: create %s", path)
	}

	switch ext {
	case ".json":
		err = WriteJSON(f, t)
	case ".tsv":
		err = writeDelimited(f, t, '\t')
	default:
		err = WriteCSV(f, t)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "tableio: close %s", path)
	}
	return err
}

// decodeCharset wraps r so input in the named charset is read as UTF-8.
func decodeCharset(r io.Reader, label string) (io.Reader, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "tableio: unsupported encoding %q", label)
	}
	return enc.NewDecoder().Reader(r), nil
}

// cellParser converts raw cell text to typed values for one schema.
type cellParser struct {
	keys    map[string]bool
	clients map[string]bool
	history string
}

func newCellParser(s model.Schema) cellParser {
	return cellParser{keys: s.KeySet(), clients: s.ClientSet(), history: s.AuditHistory}
}

// parse infers a value from text. Key fields and client fields other than the
// audit history are kept as text so identifiers like "007" survive.
func (p cellParser) parse(field, text string) model.Value {
	if text == "" {
		return model.Null()
	}
	if field == p.history {
		if h, ok := model.DecodeHistory(model.String(text)); ok {
			return model.HistoryValue(h)
		}
		return model.String(text)
	}
	if p.keys[field] || p.clients[field] {
		return model.String(text)
	}
	switch text {
	case "true", "True", "TRUE":
		return model.Bool(true)
	case "false", "False", "FALSE":
		return model.Bool(false)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return model.Number(f)
	}
	return model.String(text)
}

// normalize decodes textual audit histories left by formats that carry strings
// natively.
func (p cellParser) normalize(rec *model.Record) {
	v, ok := rec.Get(p.history)
	if !ok || v.Kind() != model.KindString {
		return
	}
	if h, ok := model.DecodeHistory(v); ok {
		rec.Set(p.history, model.HistoryValue(h))
	}
}

// cellText renders v for text formats. Histories are written as JSON arrays.
func cellText(v model.Value) (string, error) {
	if h, ok := v.History(); ok {
		b, err := h.MarshalJSON()
		if err != nil {
			return "", eris.Wrap(err, "tableio: encode history")
		}
		return string(b), nil
	}
	return v.Text(), nil
}
