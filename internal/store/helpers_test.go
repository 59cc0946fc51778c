package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2025, 7, 30, 6, 15, 0, 0, time.UTC)

func sampleTable() *model.Table {
	return model.TableOf(
		model.RecordOf(
			"COB_DATE", "2025-07-29", "LEVEL2_NAME", "Rates", "LOB", "FI",
			"NODE_ID", "n1", "NODE_NAME", "Node 1", "METRIC_NAME", "VaR",
			"metric_value", 100.0,
			"REVIEW_STATUS", "Open",
			"AUDIT_HISTORY", model.History{model.RecordOf("metric_value", 90.0)},
		),
		model.RecordOf(
			"COB_DATE", "2025-07-29", "LEVEL2_NAME", "Rates", "LOB", "FI",
			"NODE_ID", "n2", "NODE_NAME", "Node 2", "METRIC_NAME", "VaR",
			"metric_value", nil,
			"REVIEW_STATUS", "Closed",
			"AUDIT_HISTORY", model.History{},
		),
	)
}

// assertSameTable compares two tables through their JSON encoding, which
// covers field order and value kinds.
func assertSameTable(t *testing.T, want, got *model.Table) {
	t.Helper()
	wb, err := want.MarshalJSON()
	require.NoError(t, err)
	gb, err := got.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(wb), string(gb))
	assert.Equal(t, want.Columns(), got.Columns())
}
