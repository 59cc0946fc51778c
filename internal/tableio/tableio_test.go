package tableio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outlier-sync/internal/model"
)

const sampleCSV = `COB_DATE,LEVEL2_NAME,LOB,NODE_ID,NODE_NAME,METRIC_NAME,metric_value,flag,COMMENT,AUDIT_HISTORY
2025-07-29,Rates,FI,007,Node A,VaR,100.5,true,123,"[{'COB_DATE': '2025-07-28', 'metric_value': 99.0, 'flag': None}]"
2025-07-29,Rates,FI,008,Node B,VaR,,false,,
`

func TestReadCSV_InfersTypes(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	rec := tbl.At(0)
	id, ok := rec.Value("NODE_ID").Str()
	assert.True(t, ok)
	assert.Equal(t, "007", id)

	n, ok := rec.Value("metric_value").Num()
	assert.True(t, ok)
	assert.InDelta(t, 100.5, n, 1e-12)

	b, ok := rec.Value("flag").Boolean()
	assert.True(t, ok)
	assert.True(t, b)

	c, ok := rec.Value("COMMENT").Str()
	assert.True(t, ok)
	assert.Equal(t, "123", c)

	h, ok := rec.Value("AUDIT_HISTORY").History()
	require.True(t, ok)
	require.Len(t, h, 1)
	assert.Equal(t, "2025-07-28", h[0].Value("COB_DATE").Text())
	assert.True(t, h[0].Value("flag").IsNull())

	second := tbl.At(1)
	assert.Equal(t, model.KindNull, second.Value("metric_value").Kind())
	assert.Equal(t, model.KindNull, second.Value("COMMENT").Kind())
	assert.Equal(t, model.KindNull, second.Value("AUDIT_HISTORY").Kind())
}

func TestReadCSV_UnreadableHistoryKeptAsText(t *testing.T) {
	in := "COB_DATE,AUDIT_HISTORY\n2025-07-29,not a list\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	s, ok := tbl.At(0).Value("AUDIT_HISTORY").Str()
	assert.True(t, ok)
	assert.Equal(t, "not a list", s)
}

func TestReadCSV_ShortRowPadded(t *testing.T) {
	in := "a,b,c\n1,2\n"
	tbl, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tbl.At(0).Names())
	assert.True(t, tbl.At(0).Value("c").IsNull())
}

func TestReadCSV_WideRowRejected(t *testing.T) {
	in := "a,b\n1,2\n3,4,lost\n5,6\n"
	_, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv line 3 has 3 fields, header has 2")
}

func TestReadCSV_WideRowLineCountsQuotedNewlines(t *testing.T) {
	in := "a,b\n\"x\ny\",2\n3,4,lost\n"
	_, err := ReadCSV(context.Background(), strings.NewReader(in), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv line 4")
}

func TestReadCSV_EmptyTrailingCellsAllowed(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader("a,b\n1,2,,\n"), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, []string{"a", "b"}, tbl.Columns())
}

func TestReadCSV_Encoding(t *testing.T) {
	in := []byte("NODE_NAME,x\ncaf\xe9,1\n")
	tbl, err := ReadCSV(context.Background(), bytes.NewReader(in), Options{Encoding: "windows-1252"})
	require.NoError(t, err)
	assert.Equal(t, "café", tbl.At(0).Value("NODE_NAME").Text())
}

func TestReadCSV_UnknownEncoding(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a\n1\n"), Options{Encoding: "klingon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestReadCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader(sampleCSV), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestReadCSV_Delimiter(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader("a;b\n1;x\n"), Options{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns())
	assert.Equal(t, "x", tbl.At(0).Value("b").Text())
}

func TestWriteCSV_HistoryAsJSON(t *testing.T) {
	tbl := model.TableOf(model.RecordOf(
		"NODE_ID", "n1",
		"metric_value", 1.5,
		"AUDIT_HISTORY", model.History{model.RecordOf("metric_value", 1.0)},
		"COMMENT", nil,
	))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t,
		"NODE_ID,metric_value,AUDIT_HISTORY,COMMENT\nn1,1.5,\"[{\"\"metric_value\"\":1}]\",\n",
		buf.String())

	back, err := ReadCSV(context.Background(), &buf, Options{})
	require.NoError(t, err)
	h, ok := back.At(0).Value("AUDIT_HISTORY").History()
	require.True(t, ok)
	require.Len(t, h, 1)
	n, _ := h[0].Value("metric_value").Num()
	assert.Equal(t, 1.0, n)
}

func TestReadJSON_KeepsOrderAndDecodesHistory(t *testing.T) {
	in := `[{"z":1,"a":"x","AUDIT_HISTORY":"[{'a': 'old'}]"},{"a":"y","z":null}]`
	tbl, err := ReadJSON(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"z", "a", "AUDIT_HISTORY"}, tbl.Columns())

	h, ok := tbl.At(0).Value("AUDIT_HISTORY").History()
	require.True(t, ok)
	assert.Equal(t, "old", h[0].Value("a").Text())
	assert.True(t, tbl.At(1).Value("z").IsNull())
}

func TestReadJSON_NotArray(t *testing.T) {
	_, err := ReadJSON(context.Background(), strings.NewReader(`{"a":1}`), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestFileRoundTrip(t *testing.T) {
	tbl := model.TableOf(
		model.RecordOf("NODE_ID", "n1", "metric_value", 2.5, "COMMENT", "ok"),
		model.RecordOf("NODE_ID", "n2", "metric_value", nil, "COMMENT", "later"),
	)

	for _, ext := range []string{".csv", ".tsv", ".json", ".xlsx"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "table"+ext)
			require.NoError(t, WriteFile(path, tbl))

			back, err := ReadFile(context.Background(), path, Options{})
			require.NoError(t, err)
			require.Equal(t, 2, back.Len())
			assert.Equal(t, tbl.Columns(), back.Columns())
			assert.Equal(t, "n1", back.At(0).Value("NODE_ID").Text())
			n, ok := back.At(0).Value("metric_value").Num()
			assert.True(t, ok)
			assert.InDelta(t, 2.5, n, 1e-12)
			assert.True(t, back.At(1).Value("metric_value").IsNull())
			assert.Equal(t, "later", back.At(1).Value("COMMENT").Text())
		})
	}
}

func TestReadFile_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := ReadFile(context.Background(), path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.Error(t, err)
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_NamedSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"outliers": {
			{"NODE_ID", "metric_value"},
			{"001", "3"},
			{"", ""},
		},
	})

	tbl, err := ReadXLSX(path, Options{Sheet: "outliers"})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "001", tbl.At(0).Value("NODE_ID").Text())
	n, ok := tbl.At(0).Value("metric_value").Num()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})
	_, err := ReadXLSX(path, Options{Sheet: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "missing" not found`)
}
