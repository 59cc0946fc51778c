package reconcile

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
)

// DefaultTimestampFormat is the layout of the Updated-Date field.
const DefaultTimestampFormat = "2006-01-02 15:04:05"

// DuplicatePolicy decides how duplicate Match Keys in the baseline are handled.
type DuplicatePolicy string

const (
	// DuplicateReject fails the run before any mutation.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateLastWins matches the last row with a key; earlier rows with the
	// same key are never matched and end up missing.
	DuplicateLastWins DuplicatePolicy = "last"
)

// ParseDuplicatePolicy maps a config string to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, bool) {
	switch DuplicatePolicy(s) {
	case "", DuplicateReject:
		return DuplicateReject, true
	case DuplicateLastWins:
		return DuplicateLastWins, true
	default:
		return "", false
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSchema sets the key and client field layout.
func WithSchema(s model.Schema) Option {
	return func(r *Reconciler) {
		r.schema = s.WithDefaults()
	}
}

// WithTolerance sets the numeric comparison tolerance.
func WithTolerance(t Tolerance) Option {
	return func(r *Reconciler) {
		r.tol = t
	}
}

// WithActor sets the default Updated-By label.
func WithActor(actor string) Option {
	return func(r *Reconciler) {
		if actor != "" {
			r.actor = actor
		}
	}
}

// WithClock sets the run timestamp source used when Params.At is zero.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDuplicatePolicy sets the baseline duplicate key policy.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Reconciler) {
		r.duplicates = p
	}
}

// WithTimestampFormat sets the Updated-Date layout.
func WithTimestampFormat(layout string) Option {
	return func(r *Reconciler) {
		if layout != "" {
			r.timeLayout = layout
		}
	}
}

// WithLogger sets the logger for per-record decisions.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// ParseRunAt reads a run timestamp given as RFC 3339, as the Updated-Date
// layout or as a bare date. Values without a zone are taken as UTC.
func ParseRunAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, DefaultTimestampFormat, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("reconcile: invalid run time %q", s)
}
